package secretstore

import (
	"encoding/hex"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	store, err := Open(OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Set(KeyPrivateKey, "deadbeef"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, found, err := store.Get(KeyPrivateKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || val != "deadbeef" {
		t.Fatalf("got=%q found=%v", val, found)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, err := Open(OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	_, found, err := store.Get("nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("不存在的键不应返回 found")
	}
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	got, err := ParseKey(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("hex 解析: %v", err)
	}
	if len(got) != 32 || got[31] != 31 {
		t.Fatalf("hex 解析结果错误: %x", got)
	}

	if k, err := ParseKey(""); err != nil || k != nil {
		t.Fatalf("空输入应返回 nil: %v %v", k, err)
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatalf("长度不足必须报错")
	}
}
