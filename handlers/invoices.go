package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models/reports"
	"bitbucket.org/mmdatafocus/gst_billing_backend/pdf"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func createInvoice(c *gin.Context) {
	var input models.NewInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	created, err := models.CreateInvoice(c.Request.Context(), &input)
	if err != nil {
		respondError(c, "createInvoice", err)
		return
	}
	utils.RespondSuccess(c, http.StatusCreated, "Invoice created successfully", created)
}

func listInvoices(c *gin.Context) {
	filter := models.InvoiceFilter{Search: c.Query("search")}

	if raw := c.Query("status"); raw != "" {
		status := models.InvoiceStatus(raw)
		if !status.IsValid() {
			utils.RespondError(c, http.StatusBadRequest, "Invalid status", "status must be Finalized or Cancelled")
			return
		}
		filter.Status = status
	}
	var ok bool
	if filter.ClientId, ok = queryInt(c, "client_id"); !ok {
		return
	}
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	if filter.FromDate, ok = queryDate(c, "from"); !ok {
		return
	}
	if filter.ToDate, ok = queryDate(c, "to"); !ok {
		return
	}
	if filter.MinTotal, ok = queryAmount(c, "min_total"); !ok {
		return
	}
	if filter.MaxTotal, ok = queryAmount(c, "max_total"); !ok {
		return
	}

	list, err := models.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "listInvoices", err)
		return
	}
	if list.Invoices == nil {
		list.Invoices = []models.Invoice{}
	}
	utils.RespondSuccess(c, http.StatusOK, "", list)
}

func queryAmount(c *gin.Context, name string) (*decimal.Decimal, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	amount, err := utils.ParseAmount(raw)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid "+name, name+" must be an amount")
		return nil, false
	}
	return &amount, true
}

func getInvoice(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	detail, err := models.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, "getInvoice", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "", detail)
}

func cancelInvoice(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if err := models.CancelInvoice(c.Request.Context(), id); err != nil {
		respondError(c, "cancelInvoice", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Invoice cancelled successfully", nil)
}

func invoicePdf(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	detail, err := models.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, "invoicePdf", err)
		return
	}
	body, err := pdf.RenderInvoice(detail)
	if err != nil {
		respondError(c, "invoicePdf", &models.InternalError{Op: "render invoice pdf", Err: err})
		return
	}

	if bucket := config.InvoicePdfBucket(); bucket != "" {
		archiveInvoicePdf(c.Request.Context(), bucket, detail.Invoice, body)
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, detail.Invoice.InvoiceNumber))
	c.Data(http.StatusOK, "application/pdf", body)
}

// archiveInvoicePdf uploads to invoices/<period>/<number>.pdf. Failures are logged only.
func archiveInvoicePdf(ctx context.Context, bucket string, inv *models.Invoice, body []byte) {
	object := fmt.Sprintf("invoices/%s/%s.pdf", inv.BillingPeriod, inv.InvoiceNumber)
	uctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if err := utils.UploadBytesToGCS(uctx, bucket, object, body, "application/pdf"); err != nil {
		config.LogError(config.GetLogger(), "Handler", "archiveInvoicePdf", "upload pdf", object, err)
	}
}

// exportInvoices downloads the GST register for [from, to]; the current
// month when no range is given.
func exportInvoices(c *gin.Context) {
	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	now := time.Now().UTC()
	if from == nil {
		d := models.NewDate(now.Year(), now.Month(), 1)
		from = &d
	}
	if to == nil {
		d := models.NewDate(now.Year(), now.Month(), now.Day())
		to = &d
	}
	if to.Time().Before(from.Time()) {
		utils.RespondError(c, http.StatusBadRequest, "Invalid range", "to must not be before from")
		return
	}

	body, err := reports.ExportGstRegister(c.Request.Context(), config.GetDB(), *from, *to)
	if err != nil {
		respondError(c, "exportInvoices", &models.InternalError{Op: "export gst register", Err: err})
		return
	}
	filename := fmt.Sprintf("gst-register-%s-%s.xlsx", from.String(), to.String())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, body)
}

func getDashboard(c *gin.Context) {
	summary, err := models.GetDashboard(c.Request.Context(), time.Now().UTC())
	if err != nil {
		respondError(c, "getDashboard", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "", summary)
}

func listAuditLogs(c *gin.Context) {
	filter := models.AuditLogFilter{
		EntityType: c.Query("entity_type"),
		Action:     models.AuditAction(c.Query("action")),
	}
	var ok bool
	if filter.EntityId, ok = queryInt(c, "entity_id"); !ok {
		return
	}
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	logs, err := models.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "listAuditLogs", err)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	utils.RespondSuccess(c, http.StatusOK, "", logs)
}
