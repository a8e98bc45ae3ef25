package persistence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence/models"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

const (
	// b64Marker 标记二进制字段，JSON 序列化后仍可无损还原成 []byte
	b64Marker = "$b64"

	credentialWriteAttempts = 3
	credentialRetryBackoff  = 100 * time.Millisecond
)

// GormCredentialStore GORM 实现的凭证存储
type GormCredentialStore struct {
	db *gorm.DB
}

// NewGormCredentialStore 创建凭证存储
func NewGormCredentialStore(db *gorm.DB) repository.CredentialStore {
	return &GormCredentialStore{db: db}
}

func credentialKey(collection, id string) string {
	return collection + ":" + id
}

// Get 读取一条凭证文档
func (s *GormCredentialStore) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	var model models.CredentialModel
	err := s.db.WithContext(ctx).First(&model, "key = ?", credentialKey(collection, id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("credential not found")
		}
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "credential read failed", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(model.Value), &raw); err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeInternal, "credential decode failed", err)
	}
	return decodeBinaryFields(raw).(map[string]interface{}), nil
}

// Put 写入一条凭证文档。凭证丢失等于掉线重扫码，写失败时线性退避重试。
func (s *GormCredentialStore) Put(ctx context.Context, collection, id string, value map[string]interface{}) error {
	encoded, err := json.Marshal(encodeBinaryFields(value))
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeInternal, "credential encode failed", err)
	}

	model := models.CredentialModel{
		Key:       credentialKey(collection, id),
		Value:     string(encoded),
		UpdatedAt: time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= credentialWriteAttempts; attempt++ {
		lastErr = s.db.WithContext(ctx).Save(&model).Error
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * credentialRetryBackoff):
		}
	}
	return domainErrors.Wrap(domainErrors.CodeDBTransient, "credential write failed", lastErr)
}

// Delete 删除一条凭证；不存在视为成功
func (s *GormCredentialStore) Delete(ctx context.Context, collection, id string) error {
	err := s.db.WithContext(ctx).
		Delete(&models.CredentialModel{}, "key = ?", credentialKey(collection, id)).Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "credential delete failed", err)
	}
	return nil
}

// Keys 列出集合下的全部 id
func (s *GormCredentialStore) Keys(ctx context.Context, collection string) ([]string, error) {
	prefix := collection + ":"

	var keys []string
	err := s.db.WithContext(ctx).
		Model(&models.CredentialModel{}).
		Where("key LIKE ?", prefix+"%").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, domainErrors.Wrap(domainErrors.CodeDBTransient, "credential keys failed", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

// Wipe 清空整个集合
func (s *GormCredentialStore) Wipe(ctx context.Context, collection string) error {
	err := s.db.WithContext(ctx).
		Delete(&models.CredentialModel{}, "key LIKE ?", collection+":%").Error
	if err != nil {
		return domainErrors.Wrap(domainErrors.CodeDBTransient, "credential wipe failed", err)
	}
	return nil
}

// encodeBinaryFields 递归把 []byte 替换为 {"$b64": "..."} 包装
func encodeBinaryFields(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return map[string]interface{}{b64Marker: base64.StdEncoding.EncodeToString(val)}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = encodeBinaryFields(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = encodeBinaryFields(inner)
		}
		return out
	default:
		return v
	}
}

// decodeBinaryFields 还原 encodeBinaryFields 的包装
func decodeBinaryFields(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 1 {
			if enc, ok := val[b64Marker].(string); ok {
				if raw, err := base64.StdEncoding.DecodeString(enc); err == nil {
					return raw
				}
			}
		}
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = decodeBinaryFields(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = decodeBinaryFields(inner)
		}
		return out
	default:
		return v
	}
}
