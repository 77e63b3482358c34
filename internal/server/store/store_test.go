/*
 * Copyright 2025 Holger de Carne
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store_test

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdrn-org/fakeid/internal/server/store"
)

func TestPutGetRemove(t *testing.T) {
	s := store.New[string]("test", store.NoExpiry)
	require.Equal(t, "test", s.Name())
	_, found := s.Get("key")
	require.False(t, found)
	s.Put("key", "value")
	value, found := s.Get("key")
	require.True(t, found)
	require.Equal(t, "value", value)
	// repeated reads keep the entry
	value, found = s.Get("key")
	require.True(t, found)
	require.Equal(t, "value", value)
	s.Remove("key")
	_, found = s.Get("key")
	require.False(t, found)
}

func TestTake(t *testing.T) {
	s := store.New[int]("test", store.NoExpiry)
	s.Put("key", 42)
	value, found := s.Take("key")
	require.True(t, found)
	require.Equal(t, 42, value)
	_, found = s.Take("key")
	require.False(t, found)
	_, found = s.Get("key")
	require.False(t, found)
}

func TestConcurrentTake(t *testing.T) {
	s := store.New[int]("test", store.NoExpiry)
	s.Put("key", 1)
	var taken atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found := s.Take("key")
			if found {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), taken.Load())
}

func TestConcurrentPut(t *testing.T) {
	s := store.New[int]("test", store.NoExpiry)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Put(strconv.Itoa(i), i)
		}()
	}
	wg.Wait()
	require.Equal(t, 100, s.Len())
	for i := range 100 {
		value, found := s.Get(strconv.Itoa(i))
		require.True(t, found)
		require.Equal(t, i, value)
	}
}

func TestExpiry(t *testing.T) {
	s := store.New[string]("test", 50*time.Millisecond)
	s.Put("short", "value")
	s.PutWithLifetime("long", "value", time.Hour)
	s.PutWithLifetime("forever", "value", store.NoExpiry)
	time.Sleep(100 * time.Millisecond)
	_, found := s.Get("short")
	require.False(t, found)
	_, found = s.Take("short")
	require.False(t, found)
	_, found = s.Get("long")
	require.True(t, found)
	_, found = s.Get("forever")
	require.True(t, found)
	s.DeleteExpired()
	require.Equal(t, 2, s.Len())
}

func TestClear(t *testing.T) {
	s := store.New[string]("test", store.NoExpiry)
	s.Put("key1", "value1")
	s.Put("key2", "value2")
	require.Equal(t, 2, s.Len())
	s.Clear()
	require.Equal(t, 0, s.Len())
}
