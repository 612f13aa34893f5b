// provider-sim is a local stand-in for every external collaborator opsflow
// talks to: the QuickBooks and Google token endpoints and APIs, the mail
// API, and the notification webhook. Point the service at it with:
//
//	QB_TOKEN_URL=http://localhost:9100/quickbooks/token
//	QB_API_BASE_URL=http://localhost:9100/quickbooks
//	GOOGLE_TOKEN_URL=http://localhost:9100/google/token
//	GOOGLE_API_BASE_URL=http://localhost:9100/google
//	MAIL_API_URL=http://localhost:9100/mail/send
//	NOTIFY_WEBHOOK_URL=http://localhost:9100/notify/hook
//
// POST /simulate/quickbooks?entity=Invoice or /simulate/calendar to mutate
// records; the next incremental sync picks the change up and feeds the
// workflow engine.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type request struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body"`
}

var (
	mu           sync.Mutex
	counts       = map[string]int64{}
	lastRequests []request
	since        time.Time

	tokenSeq int64
	eventSeq int64
	idSeq    int64

	qbRecords map[string][]map[string]any
	calEvents []map[string]any

	tokenTTL     = 3600
	notifySecret string
)

const maxStored = 50

func main() {
	since = time.Now().UTC()
	seed()

	addr := ":9100"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tokenTTL = n
		}
	}
	notifySecret = os.Getenv("NOTIFY_SECRET")

	http.HandleFunc("/quickbooks/token", tokenHandler)
	http.HandleFunc("/google/token", tokenHandler)
	http.HandleFunc("/quickbooks/v3/company/", quickbooksHandler)
	http.HandleFunc("/google/calendars/", calendarHandler)
	http.HandleFunc("/mail/send", mailHandler)
	http.HandleFunc("/notify/hook", notifyHandler)
	http.HandleFunc("/simulate/quickbooks", simulateQuickBooks)
	http.HandleFunc("/simulate/calendar", simulateCalendar)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/reset", resetHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	log.Printf("provider-sim listening on %s (token_ttl=%ds)", addr, tokenTTL)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// seed installs a few records so the first incremental sync has something
// to import.
func seed() {
	now := time.Now().UTC().Format(time.RFC3339)
	eventSeq = 1
	qbRecords = map[string][]map[string]any{
		"Invoice": {
			{"Id": "1001", "DocNumber": "INV-1001", "TotalAmt": 450.00, "Balance": 0.0, "updated": now},
			{"Id": "1002", "DocNumber": "INV-1002", "TotalAmt": 120.50, "Balance": 120.50, "updated": now},
		},
		"Payment": {
			{"Id": "2001", "TotalAmt": 450.00, "updated": now},
		},
		"Customer": {
			{"Id": "3001", "DisplayName": "Harbor Grain Co", "updated": now},
		},
	}
	calEvents = []map[string]any{
		{"id": "sim-evt-1", "summary": "Quarterly inspection", "status": "confirmed", "updated": now},
	}
}

func record(category string, r *http.Request, body []byte) int64 {
	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      string(body),
	}

	mu.Lock()
	counts[category]++
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	n := counts[category]
	mu.Unlock()
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// tokenHandler mints token pairs for both providers. The literal grant
// "revoked" is rejected with invalid_grant so the reauthorization path can
// be exercised; everything else is accepted.
func tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	record("token", r, []byte(r.PostForm.Encode()))

	var grant string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		grant = r.PostForm.Get("code")
	case "refresh_token":
		grant = r.PostForm.Get("refresh_token")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if grant == "" || grant == "revoked" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "grant is unknown or revoked",
		})
		return
	}

	mu.Lock()
	tokenSeq++
	n := tokenSeq
	mu.Unlock()

	log.Printf("token issued #%d for %s", n, r.URL.Path)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  fmt.Sprintf("at-%d", n),
		"refresh_token": fmt.Sprintf("rt-%d", n),
		"expires_in":    tokenTTL,
		"token_type":    "bearer",
	})
}

func requireBearer(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return false
	}
	return true
}

// quickbooksHandler serves /quickbooks/v3/company/{realm}/{query|cdc|entity}.
func quickbooksHandler(w http.ResponseWriter, r *http.Request) {
	if !requireBearer(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/quickbooks/v3/company/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	op := parts[1]

	switch {
	case op == "query" && r.Method == http.MethodGet:
		record("quickbooks", r, nil)
		entity, id := parseQuery(r.URL.Query().Get("query"))
		mu.Lock()
		items := filterByID(qbRecords[entity], id)
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"QueryResponse": map[string]any{entity: items},
		})

	case op == "cdc" && r.Method == http.MethodGet:
		record("quickbooks", r, nil)
		entities := strings.Split(r.URL.Query().Get("entities"), ",")
		changedSince, _ := time.Parse(time.RFC3339, r.URL.Query().Get("changedSince"))
		groups := map[string]any{}
		mu.Lock()
		for _, entity := range entities {
			entity = strings.TrimSpace(entity)
			if items := changedAfter(qbRecords[entity], changedSince); len(items) > 0 {
				groups[entity] = items
			}
		}
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"CDCResponse": []map[string]any{{"QueryResponse": []map[string]any{groups}}},
		})

	case r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		record("quickbooks", r, body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		entity := canonicalEntity(strings.SplitN(op, "?", 2)[0])
		stored := upsertRecord(entity, payload)
		log.Printf("quickbooks upsert %s id=%v", entity, stored["Id"])
		writeJSON(w, http.StatusOK, map[string]any{entity: stored})

	default:
		http.NotFound(w, r)
	}
}

// parseQuery pulls the entity and optional Id filter out of a statement like
// SELECT * FROM Invoice WHERE Id = '42'.
func parseQuery(query string) (entity, id string) {
	fields := strings.Fields(query)
	for i, f := range fields {
		if strings.EqualFold(f, "FROM") && i+1 < len(fields) {
			entity = fields[i+1]
		}
		if strings.EqualFold(f, "Id") && i+2 < len(fields) {
			id = strings.Trim(fields[i+2], "'")
		}
	}
	return entity, id
}

func filterByID(items []map[string]any, id string) []map[string]any {
	if id == "" {
		return append([]map[string]any{}, items...)
	}
	for _, item := range items {
		if fmt.Sprint(item["Id"]) == id {
			return []map[string]any{item}
		}
	}
	return []map[string]any{}
}

func changedAfter(items []map[string]any, since time.Time) []map[string]any {
	var out []map[string]any
	for _, item := range items {
		updated, err := time.Parse(time.RFC3339, fmt.Sprint(item["updated"]))
		if err != nil || !updated.Before(since) {
			out = append(out, item)
		}
	}
	return out
}

func canonicalEntity(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func upsertRecord(entity string, payload map[string]any) map[string]any {
	mu.Lock()
	defer mu.Unlock()

	payload["updated"] = time.Now().UTC().Format(time.RFC3339)
	id := fmt.Sprint(payload["Id"])
	if payload["Id"] == nil || id == "" {
		idSeq++
		id = fmt.Sprintf("9%03d", idSeq)
		payload["Id"] = id
	}
	for i, existing := range qbRecords[entity] {
		if fmt.Sprint(existing["Id"]) == id {
			qbRecords[entity][i] = payload
			return payload
		}
	}
	qbRecords[entity] = append(qbRecords[entity], payload)
	return payload
}

// calendarHandler serves /google/calendars/{id}/events[/{eventID}].
func calendarHandler(w http.ResponseWriter, r *http.Request) {
	if !requireBearer(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/google/calendars/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] != "events" {
		http.NotFound(w, r)
		return
	}
	eventID := ""
	if len(parts) == 3 {
		eventID = parts[2]
	}

	switch {
	case r.Method == http.MethodGet && eventID == "":
		record("calendar", r, nil)
		updatedMin, _ := time.Parse(time.RFC3339, r.URL.Query().Get("updatedMin"))
		mu.Lock()
		items := changedCalendarEvents(updatedMin)
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case r.Method == http.MethodPost && eventID == "":
		body, _ := io.ReadAll(r.Body)
		record("calendar", r, body)
		var ev map[string]any
		if err := json.Unmarshal(body, &ev); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event"})
			return
		}
		mu.Lock()
		eventSeq++
		ev["id"] = fmt.Sprintf("sim-evt-%d", eventSeq)
		ev["updated"] = time.Now().UTC().Format(time.RFC3339)
		calEvents = append(calEvents, ev)
		mu.Unlock()
		log.Printf("calendar event created %s", ev["id"])
		writeJSON(w, http.StatusOK, ev)

	case r.Method == http.MethodPut && eventID != "":
		body, _ := io.ReadAll(r.Body)
		record("calendar", r, body)
		var ev map[string]any
		if err := json.Unmarshal(body, &ev); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event"})
			return
		}
		ev["id"] = eventID
		ev["updated"] = time.Now().UTC().Format(time.RFC3339)
		mu.Lock()
		replaced := false
		for i, existing := range calEvents {
			if existing["id"] == eventID {
				calEvents[i] = ev
				replaced = true
				break
			}
		}
		mu.Unlock()
		if !replaced {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, ev)

	case r.Method == http.MethodDelete && eventID != "":
		record("calendar", r, nil)
		mu.Lock()
		for i, existing := range calEvents {
			if existing["id"] == eventID {
				calEvents = append(calEvents[:i], calEvents[i+1:]...)
				break
			}
		}
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func changedCalendarEvents(updatedMin time.Time) []map[string]any {
	var out []map[string]any
	for _, ev := range calEvents {
		updated, err := time.Parse(time.RFC3339, fmt.Sprint(ev["updated"]))
		if err != nil || !updated.Before(updatedMin) {
			out = append(out, ev)
		}
	}
	return out
}

func mailHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	n := record("mail", r, body)
	log.Printf("mail received #%d: %s", n, string(body))
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func notifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)

	if notifySecret != "" {
		mac := hmac.New(sha256.New, []byte(notifySecret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(r.Header.Get("X-Opsflow-Signature"))) {
			log.Printf("notify rejected: bad signature")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
			return
		}
	}

	n := record("notify", r, body)
	log.Printf("notify received #%d on %s: %s", n, r.Header.Get("X-Opsflow-Channel"), string(body))
	writeJSON(w, http.StatusOK, map[string]int64{"received": n})
}

// simulateQuickBooks mutates one record so the next incremental sync sees it.
func simulateQuickBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := canonicalEntity(r.URL.Query().Get("entity"))
	if entity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity query parameter required"})
		return
	}
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	stored := upsertRecord(entity, payload)
	log.Printf("simulated %s change id=%v", entity, stored["Id"])
	writeJSON(w, http.StatusOK, stored)
}

// simulateCalendar touches an event (or creates one) so the next pull sees it.
func simulateCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var ev map[string]any
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event"})
		return
	}

	mu.Lock()
	ev["updated"] = time.Now().UTC().Format(time.RFC3339)
	id := fmt.Sprint(ev["id"])
	replaced := false
	if ev["id"] != nil && id != "" {
		for i, existing := range calEvents {
			if existing["id"] == id {
				calEvents[i] = ev
				replaced = true
				break
			}
		}
	}
	if !replaced {
		if ev["id"] == nil || id == "" {
			eventSeq++
			ev["id"] = fmt.Sprintf("sim-evt-%d", eventSeq)
		}
		calEvents = append(calEvents, ev)
	}
	mu.Unlock()

	log.Printf("simulated calendar change id=%v", ev["id"])
	writeJSON(w, http.StatusOK, ev)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	snapshot := struct {
		Counts       map[string]int64 `json:"counts"`
		LastRequests []request        `json:"last_requests"`
		Since        string           `json:"since"`
	}{
		Counts:       map[string]int64{},
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	for k, v := range counts {
		snapshot.Counts[k] = v
	}
	mu.Unlock()

	writeJSON(w, http.StatusOK, snapshot)
}

func resetHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	counts = map[string]int64{}
	lastRequests = nil
	since = time.Now().UTC()
	seed()
	mu.Unlock()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}
