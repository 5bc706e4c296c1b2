package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("MRP_DEFAULT_PRICE_BASIS", "average_price")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want env override", cfg.Database.Host)
	}
	if cfg.MRP.DefaultPriceBasis != "average_price" {
		t.Errorf("mrp.default_price_basis = %q", cfg.MRP.DefaultPriceBasis)
	}
	if cfg.MRP.PublishBuffer != 256 {
		t.Errorf("mrp.publish_buffer = %d, want 256", cfg.MRP.PublishBuffer)
	}
	if cfg.Redis.Addr() != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr())
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "mrp"}
	want := "host=h port=5432 user=u password=p dbname=mrp sslmode=disable TimeZone=Asia/Shanghai"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
