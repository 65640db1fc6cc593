package quiz

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex

	t.Run("same key", func(t *testing.T) {
		var wg sync.WaitGroup
		counter := 0
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock("a")
				defer unlock()
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, counter)
	})
	t.Run("other keys are not blocked", func(t *testing.T) {
		unlockA := km.Lock("a")
		defer unlockA()

		done := make(chan struct{})
		go func() {
			km.Lock("b")()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Lock(b) blocked by a")
		}
	})

	assert.Empty(t, km.locks, "released keys are dropped")
}
