package querycache

import "context"

// Value returns the value under key when it holds a T.
func Value[T any](c *Cache, key string) (T, bool) {
	var zero T
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// SnapshotValue returns the T key held when snapshot was taken.
func SnapshotValue[T any](snapshot Snapshot, key string) (T, bool) {
	var zero T
	raw, ok := snapshot.Value(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// UpdateValue patches the T stored under key. Values of another type are left alone.
func UpdateValue[T any](c *Cache, key string, fn func(T) (T, bool)) bool {
	return c.Update(key, func(current any) (any, bool) {
		typed, ok := current.(T)
		if !ok {
			return current, false
		}
		return fn(typed)
	})
}

// FetchValue is Fetch for a typed loader.
func FetchValue[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, errWrongType(key)
	}
	return typed, nil
}
