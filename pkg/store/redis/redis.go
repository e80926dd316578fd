package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

const defaultPrefix = "meshflow"

// ContactStore keeps contacts as one JSON string per key plus an index set,
// so several daemons can share a registry.
type ContactStore struct {
	client *redis.Client
	prefix string
	log    *log.Entry
}

// NewContactStore creates a store. An empty prefix uses "meshflow".
func NewContactStore(client *redis.Client, prefix string) *ContactStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ContactStore{
		client: client,
		prefix: prefix,
		log:    log.WithField("component", "redis_contacts"),
	}
}

func (s *ContactStore) indexKey() string {
	return s.prefix + ":contacts"
}

func (s *ContactStore) makeKey(publicKey string) string {
	return fmt.Sprintf("%s:contact:%s", s.prefix, publicKey)
}

// Set stores or replaces a contact.
func (s *ContactStore) Set(ctx context.Context, c registry.Contact) error {
	key := packet.NormalizeHex(c.PublicKey)
	if key == "" {
		return fmt.Errorf("invalid public key %q", c.PublicKey)
	}
	c.PublicKey = key
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.makeKey(key), data, 0)
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store contact %s: %w", key, err)
	}
	return nil
}

// Get reads one contact. The bool is false when the key is unknown.
func (s *ContactStore) Get(ctx context.Context, publicKey string) (registry.Contact, bool, error) {
	key := s.makeKey(packet.NormalizeHex(publicKey))
	data, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return registry.Contact{}, false, nil
	}
	if err != nil {
		return registry.Contact{}, false, fmt.Errorf("failed to GET %s: %w", key, err)
	}
	var c registry.Contact
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return registry.Contact{}, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return c, true, nil
}

// Delete removes a contact and its index entry.
func (s *ContactStore) Delete(ctx context.Context, publicKey string) error {
	key := packet.NormalizeHex(publicKey)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.makeKey(key))
		pipe.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete contact %s: %w", key, err)
	}
	return nil
}

// Contacts returns every stored contact ordered by public key. Entries that
// vanished or fail to decode are skipped.
func (s *ContactStore) Contacts(ctx context.Context) ([]registry.Contact, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to SMEMBERS %s: %w", s.indexKey(), err)
	}
	if len(ids) == 0 {
		return []registry.Contact{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.makeKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET contacts: %w", err)
	}

	contacts := make([]registry.Contact, 0, len(values))
	for i, val := range values {
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			s.log.WithField("key", keys[i]).Warn("contact_not_a_string")
			continue
		}
		var c registry.Contact
		if err := json.Unmarshal([]byte(str), &c); err != nil {
			s.log.WithError(err).WithField("key", keys[i]).Warn("contact_decode_failed")
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

// Clear removes every contact under the prefix.
func (s *ContactStore) Clear(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s during clear: %w", s.indexKey(), err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.makeKey(id))
	}
	keys = append(keys, s.indexKey())
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to DEL contacts: %w", err)
	}
	return nil
}
