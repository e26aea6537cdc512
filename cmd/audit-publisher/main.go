// audit-publisher drains audit_logs rows to the AUDIT_PUBSUB_TOPIC Pub/Sub
// topic until interrupted. Several instances may run against one database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/workflow"
)

func main() {
	topic := flag.String("topic", config.AuditTopic(), "Pub/Sub topic (defaults to AUDIT_PUBSUB_TOPIC)")
	batch := flag.Int("batch", 50, "Rows claimed per poll")
	poll := flag.Duration("poll", time.Second, "Idle poll interval")
	once := flag.Bool("once", false, "Publish one batch and exit")
	flag.Parse()

	if *topic == "" {
		fmt.Fprintln(os.Stderr, "no topic: set AUDIT_PUBSUB_TOPIC or pass -topic")
		os.Exit(1)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	publisher := workflow.NewAuditPublisher(db, logger, *topic)
	if *batch > 0 {
		publisher.BatchSize = *batch
	}
	if *poll > 0 {
		publisher.PollInterval = *poll
	}

	fields := logrus.Fields{"field": "audit-publisher", "topic": *topic, "publisher_id": publisher.PublisherID}
	if *once {
		sent := publisher.PublishOnce(sigCtx)
		logger.WithFields(fields).Infof("published %d audit rows", sent)
		return
	}

	logger.WithFields(fields).Info("audit publisher started")
	publisher.Run(sigCtx)
	logger.WithFields(fields).Info("audit publisher stopped")
}
