package workflow

import "github.com/Sonni4154/opsflow/internal/domain"

// DefaultTriggers is the catalogue installed on first boot. Names are
// stable: Bootstrap skips any that already exist, so operator edits to
// these rules survive restarts. The overdue reminder only emails when an
// office address is configured.
func DefaultTriggers(officeEmail string) []domain.Trigger {
	triggers := []domain.Trigger{
		{
			Name:        "invoice-paid-accounting-sync",
			Description: "Push paid invoices to QuickBooks and count revenue.",
			Event:       "invoice_paid",
			Priority:    10,
			CreatedBy:   "system",
			Actions: []domain.ActionSpec{
				{
					Type:        domain.ActionSyncQuickBooks,
					RetryOnFail: true,
					QuickBooks:  &domain.QuickBooksSyncConfig{Entity: "Invoice", Direction: "push"},
				},
				{
					Type:   domain.ActionUpdateMetric,
					Metric: &domain.MetricConfig{Name: "invoices_paid"},
				},
			},
		},
		{
			Name:        "payment-received-accounting-sync",
			Description: "Push recorded payments to QuickBooks.",
			Event:       "payment_received",
			Priority:    10,
			CreatedBy:   "system",
			Actions: []domain.ActionSpec{
				{
					Type:        domain.ActionSyncQuickBooks,
					RetryOnFail: true,
					QuickBooks:  &domain.QuickBooksSyncConfig{Entity: "Payment", Direction: "push"},
				},
				{
					Type:   domain.ActionUpdateMetric,
					Metric: &domain.MetricConfig{Name: "payments_received"},
				},
			},
		},
		{
			Name:        "job-scheduled-calendar",
			Description: "Mirror newly scheduled jobs into the service calendar and tell dispatch.",
			Event:       "job_scheduled",
			Priority:    10,
			CreatedBy:   "system",
			Actions: []domain.ActionSpec{
				{
					Type:        domain.ActionSyncGoogleCalendar,
					RetryOnFail: true,
					Calendar:    &domain.CalendarSyncConfig{CalendarID: "primary", Operation: "create"},
				},
				{
					Type:         domain.ActionSendNotification,
					Notification: &domain.NotificationConfig{Target: "dispatch", Message: "A new job was scheduled."},
				},
			},
		},
		{
			Name:        "job-completed-wrapup",
			Description: "Close out completed jobs: status, activity log and counters.",
			Event:       "job_completed",
			Priority:    10,
			CreatedBy:   "system",
			Actions: []domain.ActionSpec{
				{
					Type:   domain.ActionUpdateStatus,
					Status: &domain.StatusConfig{EntityType: "job", Status: "completed"},
				},
				{
					Type:     domain.ActionLogActivity,
					Activity: &domain.ActivityConfig{Category: "operations", Message: "Job completed in the field."},
				},
				{
					Type:   domain.ActionUpdateMetric,
					Metric: &domain.MetricConfig{Name: "jobs_completed"},
				},
			},
		},
		{
			Name:        "lead-form-intake",
			Description: "Record new lead form submissions and alert sales.",
			Event:       "form_submitted",
			Priority:    20,
			CreatedBy:   "system",
			Conditions: &domain.ConditionSet{
				Clauses: []domain.FieldClause{
					{Field: "formType", Operator: domain.OpEquals, Value: "lead"},
				},
			},
			Actions: []domain.ActionSpec{
				{
					Type:     domain.ActionLogActivity,
					Activity: &domain.ActivityConfig{Category: "sales", Message: "Lead form submitted."},
				},
				{
					Type:         domain.ActionSendNotification,
					Notification: &domain.NotificationConfig{Target: "sales", Message: "A new lead came in."},
				},
				{
					Type:   domain.ActionUpdateMetric,
					Metric: &domain.MetricConfig{Name: "leads_captured"},
				},
			},
		},
		{
			Name:        "clock-out-timesheet",
			Description: "Log technician shift ends for the timesheet review.",
			Event:       "clock_out",
			Priority:    30,
			CreatedBy:   "system",
			Actions: []domain.ActionSpec{
				{
					Type:     domain.ActionLogActivity,
					Activity: &domain.ActivityConfig{Category: "timesheet", Message: "Technician clocked out."},
				},
				{
					Type:   domain.ActionUpdateMetric,
					Metric: &domain.MetricConfig{Name: "shifts_completed"},
				},
			},
		},
	}

	overdue := domain.Trigger{
		Name:        "invoice-overdue-followup",
		Description: "Flag overdue invoices during business hours.",
		Event:       "invoice_overdue",
		Priority:    10,
		CreatedBy:   "system",
		Conditions: &domain.ConditionSet{
			Clauses: []domain.FieldClause{
				{Field: "amountDue", Operator: domain.OpGreaterThan, Value: 0},
			},
			Window: &domain.TimeWindow{StartHour: 8, EndHour: 18},
		},
		Actions: []domain.ActionSpec{
			{
				Type:   domain.ActionUpdateStatus,
				Status: &domain.StatusConfig{EntityType: "invoice", Status: "overdue"},
			},
		},
	}
	if officeEmail != "" {
		overdue.Actions = append(overdue.Actions, domain.ActionSpec{
			Type:        domain.ActionSendEmail,
			RetryOnFail: true,
			Email: &domain.EmailConfig{
				To:      officeEmail,
				Subject: "Invoice overdue",
				Body:    "An invoice passed its due date and was flagged for follow-up.",
			},
		})
	}

	return append(triggers, overdue)
}
