package pool

import (
	"testing"
)

func TestPayloadPool(t *testing.T) {
	// Get payload map from pool
	payload := GetPayload()
	if payload == nil {
		t.Fatal("Expected non-nil payload map")
	}

	if len(payload) != 0 {
		t.Errorf("Expected empty payload, got %d entries", len(payload))
	}

	// Set some values
	payload["to"] = "a@example.com"
	payload["retries"] = 3

	// Return to pool
	PutPayload(payload)

	// Get another payload map
	payload2 := GetPayload()
	if payload2 == nil {
		t.Fatal("Expected non-nil payload map")
	}

	// Verify it's clean (could be the same object)
	if len(payload2) != 0 {
		t.Errorf("Expected empty payload, got %d entries", len(payload2))
	}
}

func TestByteBufferPool(t *testing.T) {
	// Get buffer from pool
	buf := GetByteBuffer()
	if buf == nil {
		t.Fatal("Expected non-nil buffer")
	}

	// Verify buffer is empty
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf.Len())
	}

	// Write some data
	data := []byte("test data")
	buf.Write(data)

	if buf.Len() != len(data) {
		t.Errorf("Expected %d bytes, got %d", len(data), buf.Len())
	}

	// Return to pool
	PutByteBuffer(buf)

	// Get another buffer
	buf2 := GetByteBuffer()
	if buf2 == nil {
		t.Fatal("Expected non-nil buffer")
	}

	// Verify it's clean
	if buf2.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf2.Len())
	}
}

func TestStringBuilderPool(t *testing.T) {
	pool := NewStringBuilderPool()
	if pool == nil {
		t.Fatal("Expected non-nil pool")
	}

	// Get builder from pool
	buf := pool.Get()
	if buf == nil {
		t.Fatal("Expected non-nil buffer")
	}

	// Write some data
	buf.WriteString("test")
	if buf.String() != "test" {
		t.Errorf("Expected 'test', got '%s'", buf.String())
	}

	// Return to pool
	pool.Put(buf)

	// Get another builder
	buf2 := pool.Get()
	if buf2 == nil {
		t.Fatal("Expected non-nil buffer")
	}

	// Verify it's clean
	if buf2.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf2.Len())
	}
}

func TestSlicePool(t *testing.T) {
	sizes := []int{512, 4096, 65536}
	pool := NewSlicePool(sizes)

	// Test getting slices
	for _, size := range sizes {
		slice := pool.Get(size)
		if len(slice) != size {
			t.Errorf("Expected slice of length %d, got %d", size, len(slice))
		}

		// Return to pool
		pool.Put(slice)
	}

	// Test getting a size not in the pool
	slice := pool.Get(100)
	if len(slice) != 100 {
		t.Errorf("Expected slice of length 100, got %d", len(slice))
	}
}

func TestMapPool(t *testing.T) {
	pool := NewMapPool(8)
	if pool == nil {
		t.Fatal("Expected non-nil pool")
	}

	// Get map from pool
	m := pool.Get()
	if m == nil {
		t.Fatal("Expected non-nil map")
	}

	// Verify map is empty
	if len(m) != 0 {
		t.Errorf("Expected empty map, got %d entries", len(m))
	}

	// Add some entries
	m["key1"] = "value1"
	m["key2"] = 123

	if len(m) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(m))
	}

	// Return to pool
	pool.Put(m)

	// Get another map
	m2 := pool.Get()
	if m2 == nil {
		t.Fatal("Expected non-nil map")
	}

	// Verify it's clean
	if len(m2) != 0 {
		t.Errorf("Expected empty map, got %d entries", len(m2))
	}
}

func TestDefaultPools(t *testing.T) {
	// Test DefaultSlicePool
	slice := DefaultSlicePool.Get(512)
	if len(slice) != 512 {
		t.Errorf("Expected slice of length 512, got %d", len(slice))
	}
	DefaultSlicePool.Put(slice)

	// Test DefaultMapPool
	m := DefaultMapPool.Get()
	if m == nil {
		t.Fatal("Expected non-nil map")
	}
	m["test"] = "value"
	DefaultMapPool.Put(m)
}

// Benchmarks

func BenchmarkPayloadPoolAllocation(b *testing.B) {
	b.Run("WithoutPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			payload := make(map[string]interface{}, 8)
			_ = payload
		}
	})

	b.Run("WithPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			payload := GetPayload()
			PutPayload(payload)
		}
	})
}

func BenchmarkByteBufferAllocation(b *testing.B) {
	data := []byte("test data")

	b.Run("WithoutPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf []byte
			buf = append(buf, data...)
			_ = buf
		}
	})

	b.Run("WithPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := GetByteBuffer()
			buf.Write(data)
			PutByteBuffer(buf)
		}
	})
}

func BenchmarkMapAllocation(b *testing.B) {
	b.Run("WithoutPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			m := make(map[string]interface{}, 8)
			m["key"] = "value"
			_ = m
		}
	})

	b.Run("WithPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			m := DefaultMapPool.Get()
			m["key"] = "value"
			DefaultMapPool.Put(m)
		}
	})
}
