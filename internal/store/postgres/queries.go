package postgres

const queryInsertTrigger = `
INSERT INTO workflow_triggers (id, name, description, event, conditions, actions, priority, active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryGetTrigger = `
SELECT id, name, description, event, conditions, actions, priority, active, created_by, created_at, updated_at
FROM workflow_triggers
WHERE id = $1
`

const queryGetTriggerByName = `
SELECT id, name, description, event, conditions, actions, priority, active, created_by, created_at, updated_at
FROM workflow_triggers
WHERE name = $1
`

const queryListTriggers = `
SELECT id, name, description, event, conditions, actions, priority, active, created_by, created_at, updated_at
FROM workflow_triggers
ORDER BY event, priority, created_at
`

const queryListActiveTriggersForEvent = `
SELECT id, name, description, event, conditions, actions, priority, active, created_by, created_at, updated_at
FROM workflow_triggers
WHERE event = $1
  AND active = true
ORDER BY priority ASC, created_at ASC
`

const queryDeactivateTrigger = `
UPDATE workflow_triggers
SET active = false, updated_at = NOW()
WHERE id = $1
  AND active = true
`

const queryGetTriggerActive = `
SELECT active FROM workflow_triggers WHERE id = $1
`

const queryInsertExecutionRecord = `
INSERT INTO execution_records (id, trigger_id, trigger_name, event, actor_id, actions, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryInsertActionAttempt = `
INSERT INTO action_attempts (id, execution_id, action_index, action_type, attempt, status, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryGetCredential = `
SELECT user_id, provider, access_token, refresh_token, realm_id, expires_at, active, created_at, updated_at
FROM credentials
WHERE user_id = $1
  AND provider = $2
`

const queryUpsertCredential = `
INSERT INTO credentials (user_id, provider, access_token, refresh_token, realm_id, expires_at, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, provider) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    realm_id = EXCLUDED.realm_id,
    expires_at = EXCLUDED.expires_at,
    active = EXCLUDED.active,
    updated_at = EXCLUDED.updated_at
`

const queryDeactivateCredential = `
UPDATE credentials
SET active = false, updated_at = NOW()
WHERE user_id = $1
  AND provider = $2
`

const queryListExpiringCredentials = `
SELECT user_id, provider, access_token, refresh_token, realm_id, expires_at, active, created_at, updated_at
FROM credentials
WHERE active = true
  AND expires_at < $1
ORDER BY expires_at ASC
LIMIT $2
`

const queryListCredentials = `
SELECT user_id, provider, access_token, refresh_token, realm_id, expires_at, active, created_at, updated_at
FROM credentials
ORDER BY user_id, provider
`

const queryInsertActivity = `
INSERT INTO activity_log (id, category, message, event, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryUpsertEntityStatus = `
INSERT INTO entity_status (entity_type, entity_id, status, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (entity_type, entity_id) DO UPDATE
SET status = EXCLUDED.status,
    updated_at = NOW()
`
