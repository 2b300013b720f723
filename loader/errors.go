package loader

import "errors"

var (
	ErrorModuleNotFound = errors.New("Module not found")
	ErrorEntryPoint     = errors.New("Module has no usable entry point")
	ErrorModulePanic    = errors.New("Module panicked during initialization")
	ErrorSymbolNotFound = errors.New("Symbol not found")
)
