// seed-company writes the company profile and an admin login so a fresh
// database can issue invoices.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-company \
//	  -name "Acme Traders" -address "12 MG Road, Bengaluru" -state Karnataka -gstin 29ABCDE1234F1Z5 \
//	  -admin-user admin -admin-password 'changeme123'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

func main() {
	name := flag.String("name", os.Getenv("COMPANY_NAME"), "Company name")
	address := flag.String("address", os.Getenv("COMPANY_ADDRESS"), "Company address")
	state := flag.String("state", os.Getenv("COMPANY_STATE"), "Company state (name or two digit code)")
	gstin := flag.String("gstin", os.Getenv("COMPANY_GST_NUMBER"), "Company GSTIN")
	email := flag.String("email", os.Getenv("COMPANY_EMAIL"), "Optional: company email")
	phone := flag.String("phone", os.Getenv("COMPANY_PHONE"), "Optional: company phone")
	bank := flag.String("bank", os.Getenv("BANK_NAME"), "Optional: bank name")
	account := flag.String("account", os.Getenv("BANK_ACCOUNT_NUMBER"), "Optional: bank account number")
	ifsc := flag.String("ifsc", os.Getenv("BANK_IFSC_CODE"), "Optional: bank IFSC")
	upi := flag.String("upi", os.Getenv("UPI_ID"), "Optional: UPI id")
	adminUser := flag.String("admin-user", os.Getenv("ADMIN_USERNAME"), "Optional: admin username to create or reset")
	adminPassword := flag.String("admin-password", os.Getenv("ADMIN_PASSWORD"), "Admin password (min 8 chars)")
	adminName := flag.String("admin-name", "Administrator", "Admin display name")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	company, err := models.UpdateCompany(ctx, &models.NewCompany{
		CompanyName:       *name,
		CompanyAddress:    *address,
		CompanyState:      *state,
		CompanyGstNumber:  *gstin,
		CompanyEmail:      *email,
		CompanyPhone:      *phone,
		BankName:          *bank,
		BankAccountNumber: *account,
		BankIfscCode:      *ifsc,
		UpiId:             *upi,
	})
	if err != nil {
		printError("company", err)
		os.Exit(2)
	}
	fmt.Printf("Company saved: %q (%s, %s)\n", company.CompanyName, company.CompanyState, company.CompanyGstNumber)

	if *adminUser != "" {
		user, err := models.UpsertUser(ctx, db, &models.NewUser{
			Username: *adminUser,
			Name:     *adminName,
			Password: *adminPassword,
			Role:     models.UserRoleAdmin,
		})
		if err != nil {
			printError("admin user", err)
			os.Exit(2)
		}
		fmt.Printf("Admin user ready: username=%q\n", user.Username)
	}

	models.WaitAudit()
}

func printError(what string, err error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		fmt.Fprintf(os.Stderr, "invalid %s: %s\n", what, ve.Message)
		for field, msg := range ve.Fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "failed to save %s: %v\n", what, err)
}
