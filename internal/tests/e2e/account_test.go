//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/account"
	"github.com/profilekit/accounts/internal/client"
	"github.com/profilekit/accounts/internal/db"
	"github.com/profilekit/accounts/internal/server"
	"github.com/profilekit/accounts/types"
	"go.uber.org/zap"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

// Smallest PNG signature plus IHDR; enough for the server's content sniffing.
var pngAvatar = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89,
}

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, "http://localhost:9000/minio/health/live"); err != nil {
		fmt.Fprintf(os.Stderr, "minio not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srvCtx, stopServer := context.WithCancel(context.Background())
	srvDone, err := startServer(srvCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		stopServer()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		stopServer()
		<-srvDone
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	stopServer()
	<-srvDone
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

type recordedAlerts []string

func (a *recordedAlerts) Alert(message string) { *a = append(*a, message) }

func TestAccountSettingsFlow(t *testing.T) {
	ctx := context.Background()
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())

	c, err := client.New(baseURL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	alerts := &recordedAlerts{}
	panel := account.New(c, alerts)

	if err := panel.Load(ctx); !errors.Is(err, account.ErrNotLoggedIn) {
		t.Fatalf("expected not logged in, got %v", err)
	}

	if _, err := c.SignUp(ctx, email, "testpass123!"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if err := panel.Load(ctx); err != nil {
		t.Fatalf("load without profile: %v", err)
	}
	if got := panel.State(); got.Email != email || got.Username != "" {
		t.Fatalf("unexpected state after first load: %+v", got)
	}

	panel.SetUsername(fmt.Sprintf("user%d", time.Now().UnixNano()%1_000_000))
	panel.SetWebsite("https://example.com")
	if err := panel.Save(ctx); err != nil {
		t.Fatalf("save: %v (alerts %v)", err, *alerts)
	}

	if err := panel.UploadAvatar(ctx, "me.png", bytes.NewReader(pngAvatar)); err != nil {
		t.Fatalf("upload avatar: %v (alerts %v)", err, *alerts)
	}
	avatarPath := panel.State().AvatarURL

	reloaded := account.New(c, alerts)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State() != panel.State() {
		t.Fatalf("reloaded state %+v differs from saved %+v", reloaded.State(), panel.State())
	}

	body, contentType, err := c.DownloadAvatar(ctx, avatarPath)
	if err != nil {
		t.Fatalf("download avatar: %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if contentType != "image/png" || !bytes.Equal(data, pngAvatar) {
		t.Fatalf("unexpected avatar %q (%d bytes)", contentType, len(data))
	}

	panel.SetUsername("x")
	if err := panel.Save(ctx); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if got := *alerts; len(got) != 2 || got[0] != "User not logged in" || !strings.Contains(got[1], "username") {
		t.Fatalf("unexpected alerts: %v", got)
	}

	if err := panel.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	session, err := c.GetSession(ctx)
	if err != nil || session != nil {
		t.Fatalf("expected signed out, got %+v, %v", session, err)
	}
}

func TestProfileRejectsForeignID(t *testing.T) {
	ctx := context.Background()
	c, err := client.New(baseURL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.SignUp(ctx, fmt.Sprintf("foreign_%d@example.com", time.Now().UnixNano()), "testpass123!"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	err = c.UpsertProfile(ctx, types.ProfileUpdate{ID: "00000000-0000-0000-0000-000000000000"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestProfileRejectsAnotherUsersAvatar(t *testing.T) {
	ctx := context.Background()
	owner, err := client.New(baseURL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := owner.SignUp(ctx, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()), "testpass123!"); err != nil {
		t.Fatalf("sign up owner: %v", err)
	}
	path, err := owner.UploadAvatar(ctx, "me.png", bytes.NewReader(pngAvatar))
	if err != nil {
		t.Fatalf("upload avatar: %v", err)
	}

	other, err := client.New(baseURL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := other.SignUp(ctx, fmt.Sprintf("other_%d@example.com", time.Now().UnixNano()), "testpass123!"); err != nil {
		t.Fatalf("sign up other: %v", err)
	}

	err = other.UpsertProfile(ctx, types.ProfileUpdate{AvatarURL: types.StringPtr(path)})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if err := owner.UpsertProfile(ctx, types.ProfileUpdate{AvatarURL: types.StringPtr(path)}); err != nil {
		t.Fatalf("owner sets own avatar: %v", err)
	}
}

func setTestEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "accounts")
	_ = os.Setenv("DB_PASSWORD", "accounts")
	_ = os.Setenv("DB_NAME", "accounts")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "avatars")
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (<-chan error, error) {
	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, zap.NewNop())
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
	}()
	return done, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
