package patch

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// HexBytes decodes from strings such as "55 50 e8" or "5550E8".
type HexBytes []byte

func (h *HexBytes) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	s = strings.NewReplacer(" ", "", "\t", "", "\n", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	*h = b
	return nil
}

func (h HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(h), nil
}

func DecodePlan(r io.Reader) (*Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	if err := yaml.UnmarshalStrict(data, plan); err != nil {
		return nil, err
	}

	for i, e := range plan.Entries {
		switch e.Kind {
		case KindAPI, KindHook, KindPointer, KindChange:
		default:
			return nil, entryError(plan, i, fmt.Errorf("%w: %q", ErrorUnknownKind, e.Kind))
		}
	}
	return plan, nil
}

// LoadPlan reads a plan file. Plans without a name are named after the file.
func LoadPlan(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	plan, err := DecodePlan(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if plan.Name == "" {
		plan.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return plan, nil
}
