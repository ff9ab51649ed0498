package core

import (
	"strings"
	"testing"
)

func TestDictionaryGenerateIncludesConstantsAndEnumerations(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddConstant("TEST_CONST", uint32(42))
	dict.AddConstant("TEST_STR", "hello")
	dict.AddEnumeration("test_pins", []string{"PA0", "PA1", "PB0"})
	dict.commandReg.Register("test_cmd", "arg=%u", func(data *[]byte) error { return nil })

	output := string(dict.Generate())

	if !strings.Contains(output, `"version":"gopper-0.1.0"`) {
		t.Error("dictionary missing version")
	}
	if !strings.Contains(output, `"TEST_CONST":"42"`) {
		t.Error("dictionary missing TEST_CONST")
	}
	if !strings.Contains(output, `"TEST_STR":"hello"`) {
		t.Error("dictionary missing TEST_STR")
	}
	if !strings.Contains(output, `"test_pins"`) {
		t.Error("dictionary missing test_pins enumeration")
	}
	if !strings.Contains(output, `"PA0":0`) {
		t.Error("dictionary missing test_pins values")
	}
	if !strings.Contains(output, `"test_cmd arg=%u"`) {
		t.Error("dictionary missing test_cmd")
	}
}

func TestDictionaryGetChunk(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddConstant("TEST", uint32(123))
	full := dict.Generate()

	chunk1 := dict.GetChunk(0, 10)
	if len(chunk1) == 0 {
		t.Error("first chunk is empty")
	}
	if len(chunk1) > 10 {
		t.Errorf("first chunk too large: %d bytes", len(chunk1))
	}

	if got := dict.GetChunk(uint32(len(full)+100), 10); len(got) != 0 {
		t.Error("chunk beyond end should be empty")
	}
	if got := dict.GetChunk(uint32(len(full)), 10); len(got) != 0 {
		t.Error("chunk at exact end should be empty")
	}
}

func TestDictionaryBuildDictionaryCaches(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddConstant("TEST", uint32(1))
	dict.BuildDictionary()

	cached := dict.Generate()
	dict.AddConstant("LATER", uint32(2))
	if strings.Contains(string(dict.Generate()), "LATER") {
		t.Error("Generate should return the cached dictionary, not rebuild after BuildDictionary")
	}
	if len(cached) == 0 {
		t.Error("BuildDictionary produced an empty cached dictionary")
	}
}

func TestInitCoreCommandsRegistersBootstrapIDs(t *testing.T) {
	oldRegistry := globalRegistry
	globalRegistry = NewCommandRegistry()
	defer func() { globalRegistry = oldRegistry }()

	InitCoreCommands()

	resp, ok := globalRegistry.GetCommandByName("identify_response")
	if !ok || resp.ID != 0 {
		t.Fatalf("identify_response must be ID 0, got ok=%v id=%v", ok, resp)
	}
	cmd, ok := globalRegistry.GetCommandByName("identify")
	if !ok || cmd.ID != 1 {
		t.Fatalf("identify must be ID 1, got ok=%v id=%v", ok, cmd)
	}

	for _, name := range []string{"get_uptime", "get_clock", "get_config", "config_reset", "finalize_config", "allocate_oids", "emergency_stop"} {
		if _, ok := globalRegistry.GetCommandByName(name); !ok {
			t.Errorf("required command not registered: %s", name)
		}
	}

	dict := string(GetGlobalDictionary().Generate())
	if !strings.Contains(dict, `"STATS_SUMSQ_BASE"`) {
		t.Error("STATS_SUMSQ_BASE constant not registered")
	}
}
