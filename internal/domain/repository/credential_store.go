package repository

import "context"

// CredentialStore 传输层会话凭证的键值存储。
// 键为 "collection:id"，值为任意 JSON 文档，[]byte 字段无损往返。
type CredentialStore interface {
	Get(ctx context.Context, collection, id string) (map[string]interface{}, error)
	Put(ctx context.Context, collection, id string, value map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error

	// Keys lists the ids stored under a collection.
	Keys(ctx context.Context, collection string) ([]string, error)

	// Wipe removes every credential in a collection. Used when the
	// transport reports the session is unrecoverable.
	Wipe(ctx context.Context, collection string) error
}
