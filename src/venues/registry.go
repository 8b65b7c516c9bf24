package venues

import (
	"fmt"
	"sync"

	"candle-hub/src/interfaces"
)

// The global registry map. Key is the venue name (e.g., "binance"), value is the constructor function.
var (
	registry = make(map[string]interfaces.IVenueAdapterConstructor)
	mu       sync.RWMutex // Use a mutex for concurrent map access
)

// Register is called by each adapter's init() function to add itself to the map.
func Register(name string, constructor interfaces.IVenueAdapterConstructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("venue constructor already registered for name: %s", name)
	}
	registry[name] = constructor
	return nil
}

// GetConstructor retrieves the constructor for a registered venue adapter.
func GetConstructor(name string) (interfaces.IVenueAdapterConstructor, error) {
	mu.RLock()
	defer mu.RUnlock()
	constructor, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("unknown venue type: %s", name)
	}
	return constructor, nil
}
