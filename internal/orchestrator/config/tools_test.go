package config

import "testing"

func TestBookkeepingKeys(t *testing.T) {
	keys := BookkeepingKeys()
	expected := map[string]bool{
		OriginalFilenameKey:  true,
		OriginalFileNamesKey: true,
	}

	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d", len(expected), len(keys))
	}
	for _, k := range keys {
		if !expected[k] {
			t.Errorf("Unexpected bookkeeping key: %s", k)
		}
	}
}

func TestCanvasToolName(t *testing.T) {
	if CanvasToolName != CanvasServerName+"_canvas" {
		t.Errorf("Canvas tool %s is not namespaced under %s", CanvasToolName, CanvasServerName)
	}
}
