package wasm

import "fmt"

// Validate checks module-level structural rules that span sections and so
// cannot be enforced while a single section streams through the decoder.
// ParseModule calls this before returning; it is exported for modules
// constructed programmatically.
func (m *Module) Validate() error {
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateMemoryCount(); err != nil {
		return err
	}
	if err := m.validateTableCount(); err != nil {
		return err
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}
	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(funcType.Params), len(funcType.Results))
	}
	return nil
}

func (m *Module) validateMemoryCount() error {
	n := m.NumImportedMemories() + len(m.Memories)
	if n > 1 {
		return fmt.Errorf("at most one memory is supported, module declares %d", n)
	}
	return nil
}

func (m *Module) validateTableCount() error {
	n := m.NumImportedTables() + len(m.Tables)
	if n > 1 {
		return fmt.Errorf("at most one table is supported, module declares %d", n)
	}
	return nil
}
