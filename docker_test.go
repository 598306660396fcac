package mbr_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}
}

func TestDockerfileBinary(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/mbr") {
		t.Error("Dockerfile should build ./cmd/mbr")
	}
	if !strings.Contains(content, `ENTRYPOINT ["/usr/local/bin/mbr"]`) {
		t.Error("Dockerfile should use the mbr binary as ENTRYPOINT")
	}
	// distrolessにはシェルがないため、ヘルスチェックはバイナリのサブコマンドで行う
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

func TestDockerComposeService(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	if !strings.Contains(content, "api:") {
		t.Error("docker-compose.yml should contain service \"api:\"")
	}
	// 状態はすべてブラウザのCookieにあるため、データベースは持たない
	if strings.Contains(content, "postgres:") {
		t.Error("docker-compose.yml should not define a database")
	}
	if !strings.Contains(content, "healthcheck") {
		t.Error("docker-compose.yml should define a healthcheck")
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	// 上流APIへの送信用ネットワーク
	if !strings.Contains(content, "networks:") || !strings.Contains(content, "egress") {
		t.Error("docker-compose.yml should define an egress network")
	}
}
