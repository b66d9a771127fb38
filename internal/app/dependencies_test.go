package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

func TestNewDependencies_Memory(t *testing.T) {
	logger := log.WithField("test", "dependencies")
	deps, err := NewDependencies(context.Background(), DefaultConfig(ServiceOrder), logger)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Pieces == nil || deps.Balances == nil {
		t.Fatal("order and payment repositories must be initialized")
	}
	if deps.Deliveries == nil || deps.Addresses == nil {
		t.Fatal("delivery repositories must be initialized")
	}
	if deps.Store != nil {
		t.Fatal("memory storage must not open postgres")
	}
	if deps.Logger != logger {
		t.Fatal("logger must be kept")
	}
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(ServicePayment), nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	if deps.Logger == nil {
		t.Error("Logger should be initialized even when nil is passed")
	}
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig(ServicePayment)
	cfg.StorageDriver = "sqlite"
	_, err := NewDependencies(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestNewDependencies_IndependentInstances(t *testing.T) {
	cfg := DefaultConfig(ServicePayment)
	first, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if _, err := first.Balances.Deposit("client-1", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := second.Balances.Get("client-1"); !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Fatalf("instances must not share state, got %v", err)
	}
}
