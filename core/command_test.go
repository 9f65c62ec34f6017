package core

import (
	"errors"
	"testing"

	"servostep/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	// Register a command
	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)

	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	// Verify command can be retrieved
	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Error("Failed to retrieve registered command")
	}

	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	// Test dispatch
	var data []byte
	err := registry.Dispatch(id, &data)
	if err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if !called {
		t.Error("Command handler was not called")
	}

	// Test unknown command
	err = registry.Dispatch(999, &data)
	if err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}

	// Verify all commands exist
	for i := uint16(0); i < 3; i++ {
		if _, ok := registry.GetCommand(i); !ok {
			t.Errorf("Command %d not found", i)
		}
	}
}

func TestCommandRegistryDictionary(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register("get_uptime", "", func(data *[]byte) error { return nil })
	registry.Register("get_config", "", func(data *[]byte) error { return nil })

	dict := registry.GetDictionary()

	if dict == "" {
		t.Error("Dictionary is empty")
	}

	t.Logf("Dictionary:\n%s", dict)
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32

	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("test_args", "value=%u", handler)

	// Create test data
	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 12345)
	data := output.Result()

	err := registry.Dispatch(id, &data)
	if err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if receivedValue != 12345 {
		t.Errorf("Expected value 12345, got %d", receivedValue)
	}
}

func TestGlobalRegistry(t *testing.T) {
	// Test the global registry functions
	RegisterCommand("global_test", "arg=%u", func(data *[]byte) error {
		return nil
	})

	dict := GetGlobalRegistry().GetDictionary()
	if dict == "" {
		t.Error("Global registry dictionary is empty")
	}
}

func TestDuplicateRegistrationKeepsID(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("dup", "a=%u", func(data *[]byte) error { return nil })
	registry.Register("other", "", func(data *[]byte) error { return nil })
	id2 := registry.Register("dup", "a=%u", func(data *[]byte) error { return nil })

	if id1 != id2 {
		t.Errorf("Expected re-registration to return ID %d, got %d", id1, id2)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 commands, got %d", registry.Count())
	}
}

func TestDispatchRefusedInShutdown(t *testing.T) {
	ClearShutdown()
	defer ClearShutdown()

	registry := NewCommandRegistry()
	var normal, flagged int
	normalID := registry.Register("normal", "v=%u", func(data *[]byte) error {
		normal++
		_, err := protocol.DecodeVLQUint(data)
		return err
	})
	flaggedID := registry.RegisterWithFlags("flagged", "", HFInShutdown, func(data *[]byte) error {
		flagged++
		return nil
	})

	TryShutdown("test")

	data := protocol.EncodeVLQ(300)
	if err := registry.Dispatch(normalID, &data); !errors.Is(err, ErrInShutdown) {
		t.Errorf("Expected ErrInShutdown, got %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected refused command arguments consumed, %d bytes left", len(data))
	}
	if _, ok := error(ErrInShutdown).(*protocol.SkipError); !ok {
		t.Error("Expected ErrInShutdown to let the transport continue the message")
	}
	var empty []byte
	if err := registry.Dispatch(flaggedID, &empty); err != nil {
		t.Errorf("Expected flagged command to run, got %v", err)
	}
	if normal != 0 || flagged != 1 {
		t.Errorf("Expected 0 normal and 1 flagged call, got %d and %d", normal, flagged)
	}
}

func TestDispatchResponseHasNoHandler(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.Register("some_response", "v=%u", nil)

	var data []byte
	if err := registry.Dispatch(id, &data); err == nil {
		t.Error("Expected error dispatching a response")
	}
}

func TestRefusedCommandSkipsOnlyItsArguments(t *testing.T) {
	ClearShutdown()
	defer ClearShutdown()

	registry := NewCommandRegistry()
	id := registry.Register("set_data", "oid=%c value=%i data=%*s", func(data *[]byte) error {
		t.Error("Expected handler not to run in shutdown")
		return nil
	})
	TryShutdown("test")

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 3)
	protocol.EncodeVLQInt(output, -70000)
	protocol.EncodeVLQBytes(output, []byte{1, 2, 3})
	protocol.EncodeVLQUint(output, 42) // start of the next command
	data := append([]byte(nil), output.Result()...)

	if err := registry.Dispatch(id, &data); !errors.Is(err, ErrInShutdown) {
		t.Fatalf("Expected ErrInShutdown, got %v", err)
	}
	next, err := protocol.DecodeVLQUint(&data)
	if err != nil || next != 42 || len(data) != 0 {
		t.Errorf("Expected the next command id 42 left, got %d (%v), %d extra bytes", next, err, len(data))
	}
}
