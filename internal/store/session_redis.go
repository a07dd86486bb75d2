// Package store mirrors session status into Redis for external
// observability. The mirror is optional and strictly write-behind: the
// session never waits on it.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SessionStatus is the flattened session state written to the mirror.
type SessionStatus struct {
	State           string    `json:"state"`
	Progress        int       `json:"progress"`
	DocName         string    `json:"doc_name,omitempty"`
	PageCount       int       `json:"page_count,omitempty"`
	Images          int       `json:"images"`
	FailedPages     []int     `json:"failed_pages,omitempty"`
	InsightDegraded bool      `json:"insight_degraded,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RedisMirror writes session status hashes keyed session:{id}:status. Keys
// expire after ttl so evicted sessions do not linger in Redis.
type RedisMirror struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisMirror(redisURL string, ttl time.Duration) (*RedisMirror, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisMirror{client: c, keyNS: "session", ttl: ttl}, nil
}

func (m *RedisMirror) key(sessionID string) string {
	return fmt.Sprintf("%s:%s:status", m.keyNS, sessionID)
}

func (m *RedisMirror) Set(ctx context.Context, sessionID string, st SessionStatus) error {
	fields := statusFields(st)
	key := m.key(sessionID)
	if err := m.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	if m.ttl > 0 {
		return m.client.Expire(ctx, key, m.ttl).Err()
	}
	return nil
}

func (m *RedisMirror) Get(ctx context.Context, sessionID string) (SessionStatus, bool, error) {
	res, err := m.client.HGetAll(ctx, m.key(sessionID)).Result()
	if err != nil {
		return SessionStatus{}, false, err
	}
	if len(res) == 0 {
		return SessionStatus{}, false, nil
	}
	return statusFromFields(res), true, nil
}

func (m *RedisMirror) Ping(ctx context.Context) error { return m.client.Ping(ctx).Err() }

func (m *RedisMirror) Close() error { return m.client.Close() }

// statusFields flattens a SessionStatus into the hash written to Redis.
func statusFields(st SessionStatus) map[string]interface{} {
	fields := map[string]interface{}{
		"state":    st.State,
		"progress": st.Progress,
		"images":   st.Images,
		"updated":  st.UpdatedAt.Format(time.RFC3339Nano),
	}
	if st.DocName != "" {
		fields["doc_name"] = st.DocName
	}
	if st.PageCount > 0 {
		fields["page_count"] = st.PageCount
	}
	if len(st.FailedPages) > 0 {
		b, _ := json.Marshal(st.FailedPages)
		fields["failed_pages"] = string(b)
	}
	if st.InsightDegraded {
		fields["insight_degraded"] = "1"
	}
	return fields
}

func statusFromFields(res map[string]string) SessionStatus {
	st := SessionStatus{
		State:   res["state"],
		DocName: res["doc_name"],
	}
	if v := res["progress"]; v != "" {
		var n int
		fmt.Sscan(v, &n)
		st.Progress = n
	}
	if v := res["page_count"]; v != "" {
		var n int
		fmt.Sscan(v, &n)
		st.PageCount = n
	}
	if v := res["images"]; v != "" {
		var n int
		fmt.Sscan(v, &n)
		st.Images = n
	}
	if v := res["failed_pages"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.FailedPages)
	}
	st.InsightDegraded = res["insight_degraded"] == "1"
	if v := res["updated"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.UpdatedAt = t
		}
	}
	return st
}
