// Command seed fills the node database with demo roles and records, signing
// every request with real wallet keys. Without -admin-key a fresh admin is
// generated and seeded.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Wikid82/memoryorgan/internal/cachestore"
	"github.com/Wikid82/memoryorgan/internal/config"
	"github.com/Wikid82/memoryorgan/internal/database"
	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/services"
	"github.com/Wikid82/memoryorgan/internal/signature"
)

type demoRecord struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func main() {
	adminHex := flag.String("admin-key", os.Getenv("MO_SEED_ADMIN_KEY"), "hex private key of the seeded admin")
	printAdmin := flag.Bool("print-admin", false, "print the admin address for -admin-key and exit")
	count := flag.Int("records", 3, "records to create per contributor")
	flag.Parse()

	logger.Init(true, os.Stdout)

	adminKey, err := loadKey(*adminHex)
	if err != nil {
		logger.Log().WithError(err).Fatal("admin key")
	}
	if *printAdmin {
		fmt.Printf("admin address: %s\nadmin key: %x\n", signature.Address(adminKey), crypto.FromECDSA(adminKey))
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}
	cfg.AdminAddress = signature.Address(adminKey)

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}
	docs, err := ledger.New(db, cfg.PeerID)
	if err != nil {
		logger.Log().WithError(err).Fatal("open ledger")
	}
	cache, err := cachestore.NewSQLStore(db)
	if err != nil {
		logger.Log().WithError(err).Fatal("open cache")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	engine, err := services.NewEngine(ctx, docs, cache, signature.NewVerifier(), services.EngineOptions{
		AdminAddress: cfg.AdminAddress,
		IOTimeout:    cfg.IOTimeout,
	})
	if err != nil {
		logger.Log().WithError(err).Fatal("start engine")
	}
	defer engine.Close()

	if engine.GetRole(cfg.AdminAddress) != models.RoleAdmin {
		logger.Log().WithField("wallet", cfg.AdminAddress).Fatal("seed wallet is not an admin on this node")
	}

	created := 0
	for i := 0; i < 2; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			logger.Log().WithError(err).Fatal("generate contributor key")
		}
		contributor := signature.Address(key)
		if _, err := engine.SetRole(ctx, sign(adminKey, "assign contributor "+contributor), contributor, string(models.RoleContributor)); err != nil {
			logger.Log().WithError(err).Fatal("assign contributor")
		}

		for j := 0; j < *count; j++ {
			data, _ := json.Marshal(demoRecord{
				Title: fmt.Sprintf("Record %d from contributor %d", j+1, i+1),
				Tags:  []string{"seed", fmt.Sprintf("batch-%d", i+1)},
			})
			r, err := engine.CreateRecord(ctx, sign(key, "create record"), data)
			if err != nil {
				logger.Log().WithError(err).Fatal("create record")
			}
			created++
			logger.WithFields(map[string]interface{}{"id": r.ID, "wallet": contributor}).Info("Record created")
		}
	}

	fmt.Printf("✓ Seeded %d records and %d roles\n", created, len(engine.ListRoles()))
}

func loadKey(hex string) (*ecdsa.PrivateKey, error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "0x")
	if hex == "" {
		return crypto.GenerateKey()
	}
	return crypto.HexToECDSA(hex)
}

func sign(key *ecdsa.PrivateKey, message string) services.SignedRequest {
	sig, err := signature.Sign(message, key)
	if err != nil {
		logger.Log().WithError(err).Fatal("sign request")
	}
	return services.SignedRequest{Wallet: signature.Address(key), Message: message, Signature: sig}
}
