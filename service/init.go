/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、配置加载等初始化工作
 * @architecture 分层架构 - 服务层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 应用启动时执行初始化流程
 * @rules 确保所有依赖服务正常启动后才提供API服务
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs dev_docs/model.md
 */

package service

import (
	"fmt"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bireport-service/service/database"
	"bireport-service/service/distributed_lock"
	"bireport-service/service/event"
	"bireport-service/service/rate_limiter"
	"bireport-service/service/registry"
	"bireport-service/service/sqlview"
)

var (
	DB                     *gorm.DB
	GlobalEventService     *event.EventService
	GlobalRegistryService  *registry.Service
	GlobalSQLViewService   *sqlview.Service
	GlobalRefreshScheduler *sqlview.RefreshScheduler
	GlobalRateLimiter      *rate_limiter.RedisRateLimiter
)

func init() {
	initDatabase()
	runMigrations()
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
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
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

// initServices 初始化服务
func initServices() {
	GlobalEventService = event.NewEventService()
	GlobalRegistryService = registry.NewService(DB)
	GlobalSQLViewService = sqlview.NewService(DB, GlobalRegistryService)

	// 初始化刷新调度器
	GlobalRefreshScheduler = sqlview.NewRefreshScheduler(DB, GlobalSQLViewService)
	GlobalSQLViewService.SetScheduler(GlobalRefreshScheduler)

	// Redis可用时启用分布式锁和限流，防止多实例重复刷新物化视图、限制SQL执行频率
	if os.Getenv("REDIS_HOST") != "" {
		if lock, err := distributed_lock.NewRedisLock(); err != nil {
			log.Printf("初始化Redis分布式锁失败，刷新任务将不加锁执行: %v", err)
		} else {
			GlobalRefreshScheduler.SetDistributedLock(lock)
		}

		if limiter, err := rate_limiter.NewRedisRateLimiter(); err != nil {
			log.Printf("初始化Redis限流器失败，SQL执行接口不限流: %v", err)
		} else {
			GlobalRateLimiter = limiter
		}
	}

	if err := GlobalRefreshScheduler.Start(); err != nil {
		log.Printf("启动刷新调度器失败: %v", err)
	}

	log.Println("服务初始化完成")
}
