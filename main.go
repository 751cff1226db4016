package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/alpacahack/quotaguard/pkg/api"
	"github.com/alpacahack/quotaguard/pkg/config"
	"github.com/alpacahack/quotaguard/pkg/geoip"
	"github.com/alpacahack/quotaguard/pkg/quota"
	"github.com/alpacahack/quotaguard/pkg/resolver"
	"github.com/alpacahack/quotaguard/pkg/storage"
)

func main() {
	cfg := config.Load()

	if cfg.UsingDefaultSecret() {
		log.Println("WARNING: ANON_FINGERPRINT_SECRET not set, using the built-in dev secret")
	}

	var store storage.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := storage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		store = gormStore
	} else {
		log.Println("WARNING: DATABASE_URL not set, identities will not survive a restart")
		store = storage.NewMemoryStore()
	}

	// GeoIP is optional; without a City database identities simply carry no
	// country stamp.
	var geoService *geoip.Service
	if cfg.GeoIPCityDB != "" {
		var err error
		geoService, err = geoip.NewService(cfg.GeoIPCityDB)
		if err != nil {
			log.Fatalf("geoip: %v", err)
		}
		defer geoService.Close()
	}

	res := resolver.New(store, cfg.FingerprintSecret,
		resolver.WithGeoIP(geoService),
		resolver.WithUsageLimit(cfg.MaxGenerations),
	)
	enf := quota.New(store, cfg.MaxGenerations)

	r := gin.Default()
	r.SetTrustedProxies([]string{"127.0.0.1"})

	api.NewServer(res, enf, store).Register(r)

	log.Printf("quotaguard listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
