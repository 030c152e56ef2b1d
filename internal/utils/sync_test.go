package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexSerializes(t *testing.T) {
	mutex := OptionalMutex{UseMutex: true}
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 16000, counter)
}

func TestOptionalMutexDisabled(t *testing.T) {
	mutex := OptionalMutex{}
	mutex.Lock()
	// A disabled mutex never blocks, so a second Lock must return immediately
	mutex.Lock()
	mutex.Unlock()
	mutex.Unlock()
	require.True(t, mutex.Mutex.TryLock())
}
