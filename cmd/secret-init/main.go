// secret-init 把 POLYMARKET_PRIVATE_KEY 写进 badger 密钥库，
// 之后运行 copybot 就不再需要环境变量里带私钥。
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/copybot/pkg/secretstore"
)

func main() {
	path := flag.String("path", "data/secrets", "密钥库路径")
	flag.Parse()

	_ = godotenv.Load()

	key := strings.TrimSpace(os.Getenv("POLYMARKET_PRIVATE_KEY"))
	if key == "" {
		fmt.Fprintln(os.Stderr, "POLYMARKET_PRIVATE_KEY 未设置")
		os.Exit(1)
	}
	encKey, err := secretstore.ParseKey(os.Getenv("SECRETSTORE_KEY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析 SECRETSTORE_KEY 失败: %v\n", err)
		os.Exit(1)
	}
	if encKey == nil {
		fmt.Fprintln(os.Stderr, "警告: 未设置 SECRETSTORE_KEY，私钥将明文存储")
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *path,
		EncryptionKey: encKey,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开密钥库失败: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Set(secretstore.KeyPrivateKey, key); err != nil {
		fmt.Fprintf(os.Stderr, "写入失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("私钥已写入 %s\n", *path)
}
