package main

import (
	"fmt"
	"log"
	"time"

	"BriefToVideo-server/config"
	"BriefToVideo-server/models"
	"BriefToVideo-server/routers"
	"BriefToVideo-server/routers/api"
	"BriefToVideo-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	flavors, err := config.LoadFlavors(config.AppConfig.Flavors.Dir)
	if err != nil {
		log.Fatalf("load flavors failed: %v", err)
	}
	fmt.Println("Flavors loaded:", flavors.Flavors())

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	retryCfg := service.DefaultRetryConfig()
	gen := config.AppConfig.Generation
	if gen.MaxRetries > 0 {
		retryCfg.MaxRetries = gen.MaxRetries
	}
	if gen.InitialDelayMs > 0 {
		retryCfg.InitialDelay = time.Duration(gen.InitialDelayMs) * time.Millisecond
	}
	if gen.MaxDelayMs > 0 {
		retryCfg.MaxDelay = time.Duration(gen.MaxDelayMs) * time.Millisecond
	}
	if gen.BackoffMultiplier > 0 {
		retryCfg.BackoffMultiplier = gen.BackoffMultiplier
	}

	store := service.NewGormStore(models.GormDB)
	worker := service.NewWorkerClient(config.AppConfig.Worker.Addr)
	orch := service.NewOrchestrator(store, worker, service.MinioResolver{}, flavors, retryCfg, nil)

	hub := service.NewProgressHub()
	api.Hub = hub

	processor := service.NewProcessor(models.GormDB, orch, hub)
	processor.StartProcessor(5)

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
