package postgres

const triggerColumns = `id, kind, schedule_type, schedule_value, is_recurring, api_endpoint, payload, is_test, created_at, updated_at`

const queryInsertTrigger = `
INSERT INTO triggers (` + triggerColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryGetTrigger = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE id = $1
`

// The shared lock keeps the trigger from being deleted or edited until the
// event log insert commits.
const queryGetTriggerForShare = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE id = $1
FOR SHARE
`

const queryUpdateTrigger = `
UPDATE triggers
SET schedule_type = $2,
    schedule_value = $3,
    is_recurring = $4,
    api_endpoint = $5,
    payload = $6,
    is_test = $7,
    updated_at = $8
WHERE id = $1
`

const queryDeleteTrigger = `
DELETE FROM triggers WHERE id = $1
`

const queryListTriggers = `
SELECT ` + triggerColumns + `
FROM triggers
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2
`

const queryListScheduledTriggers = `
SELECT ` + triggerColumns + `
FROM triggers
WHERE kind = 'scheduled'
ORDER BY created_at
`

const queryInsertEventLog = `
INSERT INTO event_logs (id, trigger_id, triggered_at, payload, is_test, state)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryListEventLogs = `
SELECT id, trigger_id, triggered_at, payload, is_test, state
FROM event_logs
ORDER BY triggered_at DESC, id
LIMIT $1 OFFSET $2
`

const queryDeleteEventLogsBefore = `
DELETE FROM event_logs WHERE triggered_at < $1
`
