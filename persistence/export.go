package persistence

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/tecnocratoshi/askesis/model"
)

// exportEnvelope is the backup file shape of spec §6: the full
// AppState plus monthlyLogsSerialized as [key, hex] pairs.
type exportEnvelope struct {
	*model.AppState
	MonthlyLogsSerialized [][2]string `json:"monthlyLogsSerialized"`
}

// Export produces pretty-printed JSON for
// askesis-backup-YYYY-MM-DD.json.
func Export(state *model.AppState, log map[string]*big.Int) ([]byte, error) {
	pairs := make([][2]string, 0, len(log))
	for k, v := range log {
		pairs = append(pairs, [2]string{k, v.Text(16)})
	}
	env := exportEnvelope{AppState: state, MonthlyLogsSerialized: pairs}
	return json.MarshalIndent(env, "", "  ")
}

// Import validates presence of habits and version, then returns the
// replacement state and log. Hex pairs are accepted with or without a
// "0x" prefix, per spec §6.
func Import(data []byte) (*model.AppState, map[string]*big.Int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("persistence: malformed import: %w", err)
	}
	if _, ok := raw["habits"]; !ok {
		return nil, nil, fmt.Errorf("persistence: import missing habits")
	}
	if _, ok := raw["version"]; !ok {
		return nil, nil, fmt.Errorf("persistence: import missing version")
	}

	var env exportEnvelope
	env.AppState = model.New()
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("persistence: unmarshal import: %w", err)
	}

	log := make(map[string]*big.Int, len(env.MonthlyLogsSerialized))
	for _, p := range env.MonthlyLogsSerialized {
		hex := p[1]
		if len(hex) > 1 && hex[0:2] == "0x" {
			hex = hex[2:]
		}
		v, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			continue
		}
		log[p[0]] = v
	}

	return env.AppState, log, nil
}
