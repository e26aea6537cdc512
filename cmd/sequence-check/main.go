// sequence-check compares every invoice_sequences counter with the highest
// sequence stored on invoices for its period. With -repair, counters that fell
// behind are moved forward so the next allocation cannot reissue a number.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

func main() {
	repair := flag.Bool("repair", false, "Move lagging counters forward to the highest issued sequence")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	drifts, err := models.CheckInvoiceSequences(ctx, db, *repair)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "sequence-check", "repair": *repair}).Error(err.Error())
		os.Exit(1)
	}
	if len(drifts) == 0 {
		fmt.Println("All invoice sequences are ahead of issued invoices.")
		return
	}

	for _, d := range drifts {
		status := "LAGGING"
		if d.Repaired {
			status = "REPAIRED"
		}
		fmt.Printf("%-8s period=%s counter=%d max_issued=%d invoices=%d\n",
			status, d.Period, d.LastValue, d.MaxIssued, d.InvoiceRows)
	}
	if !*repair {
		fmt.Fprintf(os.Stderr, "%d period(s) lagging; rerun with -repair\n", len(drifts))
		os.Exit(3)
	}
}
