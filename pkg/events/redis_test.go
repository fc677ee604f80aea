// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

func TestNewRedisPublisher_Validation(t *testing.T) {
	_, err := NewRedisPublisher(RedisConfig{})
	assert.Error(t, err)
}

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig(mr.Addr())
	pub, err := NewRedisPublisher(cfg)
	require.NoError(t, err)
	defer pub.Close()

	// Subscribe on the owner's channel before publishing.
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(context.Background(), "vaultfs:files:alice")
	defer ps.Close()
	_, err = ps.Receive(context.Background())
	require.NoError(t, err)

	fileID := uuid.New()
	want := &Event{
		Name:      FileUploaded,
		OwnerID:   "alice",
		FileID:    fileID,
		Filename:  "report.pdf",
		Size:      1024,
		EventTime: time.Now().UTC(),
	}
	require.NoError(t, pub.Publish(context.Background(), "alice", want))

	select {
	case msg := <-ps.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, FileUploaded, got.Name)
		assert.Equal(t, "alice", got.OwnerID)
		assert.Equal(t, fileID, got.FileID)
		assert.Equal(t, "report.pdf", got.Filename)
		assert.Equal(t, int64(1024), got.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEmitSwallowsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher(DefaultRedisConfig(mr.Addr()))
	require.NoError(t, err)

	// Break the connection; Emit must not panic or return an error.
	mr.Close()
	Emit(context.Background(), pub, FileDeleted, "alice", uuid.New(), "gone.txt", 0)
	pub.Close()

	Emit(context.Background(), nil, FileDeleted, "alice", uuid.New(), "gone.txt", 0)
}
