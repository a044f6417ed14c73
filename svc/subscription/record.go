package subscription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stillmind/companionkit/pkg/entitlement"
)

// Durable-store keys owned by the manager. The crisis controller owns its
// own key separately.
const (
	stateKey           = "subscription_state"
	trialHistoryPrefix = "trial_history:"
)

// recordVersion tags persisted records for forward migration.
const recordVersion = 1

// stateRecord is the locally cached subscription state.
type stateRecord struct {
	Version int               `json:"version"`
	State   entitlement.State `json:"state"`
}

// trialHistoryRecord marks that an account consumed its one trial. It is
// kept separate from the state record so the marker survives state resets
// short of account deletion.
type trialHistoryRecord struct {
	Version   int       `json:"version"`
	UserID    uuid.UUID `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

func trialHistoryKey(userID uuid.UUID) string {
	return trialHistoryPrefix + userID.String()
}

func encodeState(st entitlement.State) ([]byte, error) {
	return json.Marshal(stateRecord{Version: recordVersion, State: st})
}

// decodeState parses a cached state record. Any corruption or unknown
// version reports ok=false; callers reset to defaults and flag a resync.
func decodeState(raw []byte) (entitlement.State, bool) {
	var rec stateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return entitlement.State{}, false
	}
	if rec.Version != recordVersion {
		return entitlement.State{}, false
	}
	if !rec.State.Tier.Valid() {
		return entitlement.State{}, false
	}
	return rec.State, true
}

func encodeTrialHistory(userID uuid.UUID, startedAt time.Time) ([]byte, error) {
	return json.Marshal(trialHistoryRecord{
		Version:   recordVersion,
		UserID:    userID,
		StartedAt: startedAt,
	})
}
