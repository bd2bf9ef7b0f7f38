package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/pkg/kafka"
	"github.com/AlexKenbo/book-club/pkg/logger"
	"github.com/AlexKenbo/book-club/pkg/postgres"

	"github.com/AlexKenbo/book-club/config"
	"github.com/AlexKenbo/book-club/internal/catalog"
	"github.com/AlexKenbo/book-club/internal/handler"
	"github.com/AlexKenbo/book-club/internal/remote"
	"github.com/AlexKenbo/book-club/internal/replication"
	"github.com/AlexKenbo/book-club/internal/server"
	"github.com/AlexKenbo/book-club/internal/service"
	"github.com/AlexKenbo/book-club/internal/store"
	"github.com/AlexKenbo/book-club/internal/upload"
	"github.com/AlexKenbo/book-club/migrations"
)

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "bookclub")

	st := store.Open(cfg.Store.Path, log)
	if err := catalog.Setup(st); err != nil {
		log.Fatal("catalog setup", zap.Error(err))
	}

	// Remote configuration is detected only at process start. Anything
	// missing or unreachable here means local-only mode: the store keeps
	// serving reads and writes without replication.
	var (
		client   remote.Client
		consumer sarama.ConsumerGroup
	)
	if cfg.Database.Configured() {
		db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
		if err != nil {
			log.Warn("remote store unreachable, continuing local-only", zap.Error(err))
		} else {
			defer db.Close()
			client = remote.NewClient(db, log)
			if cfg.Kafka.Enabled() {
				consumer, err = kafka.NewConsumer(cfg.Kafka, kafka.ReplicationConsumerGroup)
				if err != nil {
					log.Warn("change feed unavailable, polling only", zap.Error(err))
					consumer = nil
				}
			}
		}
	}

	specs := make([]replication.CollectionSpec, 0)
	for _, def := range catalog.Definitions() {
		specs = append(specs, replication.CollectionSpec{
			Collection: st.Collection(def.Name),
			Table:      def.Table,
			Topic:      def.Topic,
		})
	}
	coord := replication.NewCoordinator(st, client, consumer, cfg.Replication, specs, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		log.Fatal("replication start", zap.Error(err))
	}

	svc := service.NewService(st, log)
	up := upload.NewFSUploader(cfg.Upload.Dir, cfg.Upload.BaseURL, log)
	h := handler.New(svc, up, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second*5)
	defer closeCancel()

	if err := srv.Stop(closeCtx); err != nil {
		log.DPanic("srv.Stop", zap.Error(err))
	}
	cancel()
	coord.Close()
	if err := st.Close(); err != nil {
		log.Error("store close", zap.Error(err))
	}
	log.Info("Graceful shutdown finished")
}
