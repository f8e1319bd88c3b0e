/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、Redis连接、外部客户端与各业务服务装配
 * @architecture 分层架构 - 服务层
 * @documentReference ai_docs/backend_requirements.md
 * @stateFlow 应用启动时执行初始化流程
 * @rules 确保所有依赖服务正常启动后才提供API服务
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, github.com/go-redis/redis/v8
 * @refs ai_docs/model.md
 */

package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"beneficiary-service/client"
	"beneficiary-service/service/cache"
	"beneficiary-service/service/database"
	"beneficiary-service/service/deduplication"
	"beneficiary-service/service/distributed_lock"
	"beneficiary-service/service/event"
	"beneficiary-service/service/export"
	"beneficiary-service/service/grievance"
	paymentplan "beneficiary-service/service/payment_plan"
	"beneficiary-service/service/registration"
	"beneficiary-service/service/scheduler"
	"beneficiary-service/service/targeting"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB          *gorm.DB
	RedisClient *redis.Client

	GlobalEventDispatcher          *event.Dispatcher
	GlobalCacheService             *cache.CacheService
	GlobalGrievanceService         *grievance.GrievanceService
	GlobalIncompatibleRolesService *grievance.IncompatibleRolesService
	GlobalBuilder                  *paymentplan.Builder
	GlobalPlanService              *paymentplan.PlanService
	GlobalCriteriaService          *targeting.CriteriaService
	GlobalPipeline                 *deduplication.Pipeline
	GlobalImportService            *registration.ImportService
	GlobalExportService            *export.ExportService
	GlobalSchedulerService         *scheduler.SchedulerService
)

func init() {
	initDatabase()
	runMigrations()
	initRedis()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "postgres")
		dbname := getEnvWithDefault("DB_NAME", "beneficiary")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=UTC",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := database.AutoMigrate(DB); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库表结构迁移完成")
}

// initRedis 初始化Redis连接，构建幂等键、缓存版本号与分布式锁共用
func initRedis() {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RedisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis连接失败: %v", err)
	}
	log.Println("Redis连接成功")
}

// initServices 初始化服务
func initServices() {
	// 事件分发器：Kafka发布 + 缓存版本号失效
	GlobalCacheService = cache.NewCacheService(RedisClient)
	GlobalEventDispatcher = event.NewDispatcher(
		event.NewKafkaPublisher(),
		cache.NewVersionBumpPublisher(GlobalCacheService),
	)

	// 外部服务客户端
	searchIndex := client.NewHTTPSearchIndexClient()
	biometric := client.NewHTTPBiometricClient()
	sanctionSrc := client.NewHTTPSanctionSourceClient()

	GlobalGrievanceService = grievance.NewGrievanceService(DB, GlobalEventDispatcher)
	GlobalIncompatibleRolesService = grievance.NewIncompatibleRolesService(DB)
	GlobalBuilder = paymentplan.NewBuilder(DB, RedisClient, GlobalEventDispatcher)
	GlobalPlanService = paymentplan.NewPlanService(DB)
	GlobalCriteriaService = targeting.NewCriteriaService(DB)
	GlobalPipeline = deduplication.NewPipeline(DB, searchIndex, biometric, sanctionSrc, deduplication.DefaultConfig())
	GlobalImportService = registration.NewImportService(DB, searchIndex, GlobalEventDispatcher)
	GlobalExportService = export.NewExportService(DB)

	// 调度器在分布式锁下轮询构建与查重任务
	executor := distributed_lock.NewLockExecutor(distributed_lock.NewRedisLock(RedisClient))
	GlobalSchedulerService = scheduler.NewSchedulerService(DB, GlobalBuilder, GlobalPipeline, executor)
	if err := GlobalSchedulerService.Start(); err != nil {
		log.Printf("启动调度器服务失败: %v", err)
	}
	log.Println("服务初始化完成")
}
