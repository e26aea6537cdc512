package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run MySQL -v
func TestCreateInvoice_ConcurrentAllocationMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "gst_billing_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	ctx = utils.SetUsernameInContext(ctx, "integration")

	if _, err := models.UpdateCompany(ctx, &models.NewCompany{
		CompanyName:      "Acme Traders",
		CompanyAddress:   "1 Anna Salai, Chennai",
		CompanyState:     "Tamil Nadu",
		CompanyGstNumber: "33ABCDE1234F1Z5",
	}); err != nil {
		t.Fatalf("UpdateCompany: %v", err)
	}
	local, err := models.CreateClient(ctx, &models.NewClient{
		ClientName: "Local Buyer", ClientAddress: "Madurai", ClientState: "Tamil Nadu", ClientGstNumber: "33AAAAA0000A1Z5",
	})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	remote, err := models.CreateClient(ctx, &models.NewClient{
		ClientName: "Mumbai Buyer", ClientAddress: "Mumbai", ClientState: "Maharashtra", ClientGstNumber: "27AAAAA0000A1Z5",
	})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	item, err := models.CreateItem(ctx, &models.NewItem{
		Name: "Laptop", HsnCode: "8471", Unit: "NOS",
		UnitPrice: decimal.NewFromInt(50000),
		CgstPct:   decimal.NewFromInt(9), SgstPct: decimal.NewFromInt(9), IgstPct: decimal.NewFromInt(18),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	const workers = 20
	var (
		mu      sync.Mutex
		numbers []string
		ids     []int
		wg      sync.WaitGroup
	)
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		clientId := local.ID
		if i%2 == 1 {
			clientId = remote.ID
		}
		wg.Add(1)
		go func(day int, clientId int) {
			defer wg.Done()
			created, err := models.CreateInvoice(ctx, &models.NewInvoice{
				ClientId:     clientId,
				InvoiceDate:  models.NewDate(2024, time.March, day),
				InvoiceItems: []models.NewInvoiceLine{{ItemId: item.ID, Quantity: decimal.NewFromInt(2)}},
			})
			if err != nil {
				errCh <- err
				return
			}
			mu.Lock()
			numbers = append(numbers, created.InvoiceNumber)
			ids = append(ids, created.InvoiceId)
			mu.Unlock()
		}(1+i%28, clientId)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("CreateInvoice: %v", err)
	}

	sort.Strings(numbers)
	for i, n := range numbers {
		if want := fmt.Sprintf("INV-202403-%05d", i+1); n != want {
			t.Fatalf("numbers[%d] = %s, want %s (all: %v)", i, n, want, numbers)
		}
	}

	drift, err := models.CheckInvoiceSequences(ctx, config.GetDB(), false)
	if err != nil {
		t.Fatalf("CheckInvoiceSequences: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("unexpected sequence drift: %+v", drift)
	}

	// cancel twice from two goroutines: exactly one wins
	target := ids[0]
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- models.CancelInvoice(ctx, target) }()
	}
	var okCount, conflictCount int
	for i := 0; i < 2; i++ {
		err := <-results
		var conflict *models.ConflictError
		switch {
		case err == nil:
			okCount++
		case errors.As(err, &conflict):
			conflictCount++
		default:
			t.Fatalf("CancelInvoice: %v", err)
		}
	}
	if okCount != 1 || conflictCount != 1 {
		t.Fatalf("cancel results ok=%d conflict=%d, want 1/1", okCount, conflictCount)
	}

	// a finalized invoice always comes from mysql
	finalized := readInvoiceJSON(t, ctx, ids[1])
	if again := readInvoiceJSON(t, ctx, ids[1]); again != finalized {
		t.Fatalf("finalized invoice reads differ:\n%s\n%s", finalized, again)
	}

	// first read of the cancelled invoice fills the cache, the next two are served from it
	fromDB := readInvoiceJSON(t, ctx, target)
	if !strings.Contains(fromDB, `"status":"Cancelled"`) {
		t.Fatalf("cancelled invoice json = %s", fromDB)
	}
	cacheKey := fmt.Sprintf("Invoice:%d", target)
	if n, err := config.GetRedisDB().Exists(ctx, cacheKey).Result(); err != nil || n != 1 {
		t.Fatalf("cancelled invoice not cached: n=%d err=%v", n, err)
	}
	for i := 0; i < 2; i++ {
		if cached := readInvoiceJSON(t, ctx, target); cached != fromDB {
			t.Fatalf("cached read %d differs from db read:\n%s\n%s", i, fromDB, cached)
		}
	}

	// a summary computed before a cancel must not be served after it
	now := time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC)
	before, err := models.GetDashboard(ctx, now)
	if err != nil {
		t.Fatalf("GetDashboard: %v", err)
	}
	staleGen, err := config.GetRedisInt(ctx, "Dashboard:generation")
	if err != nil {
		t.Fatalf("read dashboard generation: %v", err)
	}
	if err := models.CancelInvoice(ctx, ids[2]); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}
	// the late write of the overlapping computation
	if err := config.SetRedisObject(fmt.Sprintf("Dashboard:summary:%d", staleGen), before, time.Minute); err != nil {
		t.Fatalf("write stale summary: %v", err)
	}
	after, err := models.GetDashboard(ctx, now)
	if err != nil {
		t.Fatalf("GetDashboard: %v", err)
	}
	if after.CancelledCount != before.CancelledCount+1 {
		t.Fatalf("cancelled count = %d, want %d", after.CancelledCount, before.CancelledCount+1)
	}
	if after.AllTime.InvoiceCount != before.AllTime.InvoiceCount-1 {
		t.Fatalf("invoice count = %d, want %d", after.AllTime.InvoiceCount, before.AllTime.InvoiceCount-1)
	}
	models.WaitAudit()
}

func readInvoiceJSON(t *testing.T, ctx context.Context, id int) string {
	t.Helper()
	detail, err := models.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice(%d): %v", id, err)
	}
	b, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("marshal invoice %d: %v", id, err)
	}
	return string(b)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("gst-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun("run", "-d", "--name", name, "-p", "127.0.0.1:0:6379", "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		out, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil && strings.Contains(out, "PONG") {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("gst-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=gst_billing_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
