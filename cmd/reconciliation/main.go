package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
)

// 内存撮合为权威，结算失败只记录不回滚。对账任务把数据库三张表
// 与成交账本相互核对，偏差小于阈值可以自动修复。
const (
	orderFillReconciliationQuery = `
SELECT
    o.order_id,
    o.user_id,
    o.product_id,
    o.orig_qty - o.remaining_qty AS executed_qty,
    COALESCE(f.filled_qty, 0) AS filled_qty,
    (o.orig_qty - o.remaining_qty) - COALESCE(f.filled_qty, 0) AS qty_diff
FROM trading.orders o
LEFT JOIN (
    SELECT order_id, SUM(qty) AS filled_qty FROM (
        SELECT buy_order_id AS order_id, qty FROM trading.fills
        UNION ALL
        SELECT sell_order_id AS order_id, qty FROM trading.fills WHERE sell_order_id IS NOT NULL
    ) legs GROUP BY order_id
) f ON f.order_id = o.order_id
WHERE o.orig_qty - o.remaining_qty != COALESCE(f.filled_qty, 0);
`
	issuanceReconciliationQuery = `
SELECT
    p.product_id,
    p.issued_units,
    COALESCE(s.synthetic_qty, 0) AS synthetic_qty,
    p.issued_units - COALESCE(s.synthetic_qty, 0) AS qty_diff
FROM trading.products p
LEFT JOIN (
    SELECT product_id, SUM(qty) AS synthetic_qty
    FROM trading.fills
    WHERE sell_order_id IS NULL
    GROUP BY product_id
) s ON s.product_id = p.product_id
WHERE p.issued_units != COALESCE(s.synthetic_qty, 0);
`
	holdingReconciliationQuery = `
SELECT
    h.user_id,
    h.product_id,
    h.quantity,
    COALESCE(b.bought, 0) - COALESCE(s.sold, 0) AS net_fill_qty,
    h.quantity - (COALESCE(b.bought, 0) - COALESCE(s.sold, 0)) AS qty_diff
FROM trading.holdings h
LEFT JOIN (
    SELECT buyer_user_id AS user_id, product_id, SUM(qty) AS bought
    FROM trading.fills
    GROUP BY buyer_user_id, product_id
) b ON b.user_id = h.user_id AND b.product_id = h.product_id
LEFT JOIN (
    SELECT seller_user_id AS user_id, product_id, SUM(qty) AS sold
    FROM trading.fills
    WHERE seller_user_id IS NOT NULL
    GROUP BY seller_user_id, product_id
) s ON s.user_id = h.user_id AND s.product_id = h.product_id
WHERE h.quantity != COALESCE(b.bought, 0) - COALESCE(s.sold, 0);
`
	scopeCountQuery = `
SELECT
    (SELECT COUNT(*) FROM trading.orders),
    (SELECT COUNT(*) FROM trading.holdings),
    (SELECT COUNT(*) FROM trading.products);
`
)

type reconciliationConfig struct {
	DBURL        string
	Verbose      bool
	Alert        bool
	WebhookURL   string
	Fix          bool
	FixThreshold int64
	ReportPath   string
	Cron         string
	StoreHistory bool
}

type discrepancy struct {
	Kind      string `json:"kind"`
	OrderID   int64  `json:"orderId,omitempty"`
	UserID    int64  `json:"userId,omitempty"`
	ProductID int64  `json:"productId,omitempty"`
	Recorded  int64  `json:"recorded"`
	Derived   int64  `json:"derived"`
	Diff      int64  `json:"diff"`
}

var (
	runCLIFunc = runCLI
	exitFunc   = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runCLIFunc(ctx, os.Args[1:], os.Stdout, os.Stderr, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
	exitFunc(code)
}

func parseFlags(args []string) (reconciliationConfig, error) {
	fs := flag.NewFlagSet("reconciliation", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg reconciliationConfig
	fs.StringVar(&cfg.DBURL, "db-url", "", "PostgreSQL connection string")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show detailed progress")
	fs.BoolVar(&cfg.Alert, "alert", true, "return non-zero exit code on discrepancy")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "webhook url for discrepancy alerts")
	fs.BoolVar(&cfg.Fix, "fix", false, "auto fix small discrepancies")
	fs.Int64Var(&cfg.FixThreshold, "fix-threshold", 1, "max absolute unit diff eligible for auto fix")
	fs.StringVar(&cfg.ReportPath, "report", "", "write detailed report to file")
	fs.StringVar(&cfg.Cron, "cron", "", "cron expression for scheduled reconciliation runs")
	fs.BoolVar(&cfg.StoreHistory, "history", false, "store reconciliation history in database")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("missing required --db-url")
	}
	if cfg.FixThreshold < 0 {
		return cfg, errors.New("--fix-threshold must be >= 0")
	}
	return cfg, nil
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if strings.TrimSpace(cfg.Cron) != "" {
		return runScheduled(ctx, cfg, out, errOut, opener)
	}

	return runOnce(ctx, cfg, out, errOut, opener)
}

func runOnce(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	db, err := opener(cfg.DBURL)
	if err != nil {
		fmt.Fprintf(errOut, "failed to connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		fmt.Fprintf(errOut, "failed to ping database: %v\n", err)
		return 2
	}

	code, err := runWithDB(ctx, db, cfg, out, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		if code == 0 {
			code = 2
		}
	}
	return code
}

func runScheduled(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting scheduled reconciliation...")
	}

	scheduledCfg := cfg
	scheduledCfg.Alert = false

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cron expression: %v\n", err)
		return 2
	}

	if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code == 2 {
		return code
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if cfg.Verbose {
			fmt.Fprintln(out, "Running scheduled reconciliation...")
		}
		if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code != 0 {
			fmt.Fprintf(errOut, "scheduled reconciliation exited with code %d\n", code)
		}
	}))

	c.Start()
	<-ctx.Done()
	c.Stop()
	return 0
}

func runWithDB(ctx context.Context, db *sql.DB, cfg reconciliationConfig, out, errOut io.Writer) (int, error) {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting reconciliation checks...")
	}

	orderCount, holdingCount, productCount, err := fetchCounts(ctx, db)
	if err != nil {
		return 2, fmt.Errorf("failed to count scope: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintln(out, "Checking order fill totals...")
	}
	orderDiscrepancies, err := fetchOrderDiscrepancies(ctx, db)
	if err != nil {
		return 2, fmt.Errorf("failed to query order discrepancies: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintln(out, "Checking issued units against synthetic fills...")
	}
	issuanceDiscrepancies, err := fetchIssuanceDiscrepancies(ctx, db)
	if err != nil {
		return 2, fmt.Errorf("failed to query issuance discrepancies: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintln(out, "Checking holdings against net fill flow...")
	}
	holdingDiscrepancies, err := fetchHoldingDiscrepancies(ctx, db)
	if err != nil {
		return 2, fmt.Errorf("failed to query holding discrepancies: %w", err)
	}

	discrepancies := append(append(orderDiscrepancies, issuanceDiscrepancies...), holdingDiscrepancies...)
	fixResults := []discrepancy{}
	unresolved := discrepancies
	if cfg.Fix && len(discrepancies) > 0 {
		fixResults, unresolved, err = fixSmallDiscrepancies(ctx, db, discrepancies, cfg.FixThreshold)
		if err != nil {
			return 2, fmt.Errorf("failed to fix discrepancies: %w", err)
		}
	}

	report := buildReport(orderCount, holdingCount, productCount, discrepancies, fixResults, unresolved)
	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			return 2, fmt.Errorf("failed to write report: %w", err)
		}
	}
	if cfg.StoreHistory {
		if err := storeHistory(ctx, db, report); err != nil {
			return 2, fmt.Errorf("failed to store history: %w", err)
		}
	}

	if len(unresolved) == 0 {
		fmt.Fprintf(out, "✓ Reconciliation passed: %d orders, %d holdings, %d products checked\n",
			orderCount, holdingCount, productCount)
		return 0, nil
	}

	for _, d := range unresolved {
		fmt.Fprintf(errOut, "✗ Discrepancy found: kind=%s order_id=%d user_id=%d product_id=%d diff=%d\n",
			d.Kind, d.OrderID, d.UserID, d.ProductID, d.Diff)
	}

	if cfg.WebhookURL != "" {
		if err := sendWebhook(ctx, cfg.WebhookURL, unresolved); err != nil {
			fmt.Fprintf(errOut, "webhook alert failed: %v\n", err)
		}
	}

	if cfg.Alert {
		return 1, nil
	}
	return 0, nil
}

func fetchCounts(ctx context.Context, db *sql.DB) (int64, int64, int64, error) {
	var orders, holdings, products int64
	if err := db.QueryRowContext(ctx, scopeCountQuery).Scan(&orders, &holdings, &products); err != nil {
		return 0, 0, 0, err
	}
	return orders, holdings, products, nil
}

func fetchOrderDiscrepancies(ctx context.Context, db *sql.DB) ([]discrepancy, error) {
	rows, err := db.QueryContext(ctx, orderFillReconciliationQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []discrepancy
	for rows.Next() {
		var d discrepancy
		d.Kind = "orderFill"
		if err := rows.Scan(&d.OrderID, &d.UserID, &d.ProductID, &d.Recorded, &d.Derived, &d.Diff); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func fetchIssuanceDiscrepancies(ctx context.Context, db *sql.DB) ([]discrepancy, error) {
	rows, err := db.QueryContext(ctx, issuanceReconciliationQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []discrepancy
	for rows.Next() {
		var d discrepancy
		d.Kind = "issuance"
		if err := rows.Scan(&d.ProductID, &d.Recorded, &d.Derived, &d.Diff); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func fetchHoldingDiscrepancies(ctx context.Context, db *sql.DB) ([]discrepancy, error) {
	rows, err := db.QueryContext(ctx, holdingReconciliationQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []discrepancy
	for rows.Next() {
		var d discrepancy
		d.Kind = "holding"
		if err := rows.Scan(&d.UserID, &d.ProductID, &d.Recorded, &d.Derived, &d.Diff); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// fixSmallDiscrepancies 把账面值改写为成交账本推导值。
// 成交表是幂等账本，推导值视为真实状态。
func fixSmallDiscrepancies(ctx context.Context, db *sql.DB, discrepancies []discrepancy, threshold int64) ([]discrepancy, []discrepancy, error) {
	var fixed []discrepancy
	var unresolved []discrepancy

	for _, d := range discrepancies {
		diff := d.Diff
		if diff < 0 {
			diff = -diff
		}
		if diff > threshold {
			unresolved = append(unresolved, d)
			continue
		}

		var query string
		var args []interface{}
		nowMs := time.Now().UnixMilli()
		switch d.Kind {
		case "issuance":
			query = "UPDATE trading.products SET issued_units = $1 WHERE product_id = $2"
			args = []interface{}{d.Derived, d.ProductID}
		case "holding":
			query = "UPDATE trading.holdings SET quantity = $1, version = version + 1, updated_at_ms = $2 WHERE user_id = $3 AND product_id = $4"
			args = []interface{}{d.Derived, nowMs, d.UserID, d.ProductID}
		default:
			// 订单执行量不可安全回写，留给人工处理
			unresolved = append(unresolved, d)
			continue
		}

		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return nil, nil, err
		}
		fixed = append(fixed, d)
	}

	return fixed, unresolved, nil
}

func sendWebhook(ctx context.Context, url string, discrepancies []discrepancy) error {
	payload := map[string]interface{}{
		"message":       "reconciliation discrepancies detected",
		"discrepancies": discrepancies,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %s", resp.Status)
	}
	return nil
}

type reconciliationReport struct {
	RunAt            string        `json:"run_at"`
	OrderCount       int64         `json:"order_count"`
	HoldingCount     int64         `json:"holding_count"`
	ProductCount     int64         `json:"product_count"`
	DiscrepancyCount int           `json:"discrepancy_count"`
	FixedCount       int           `json:"fixed_count"`
	UnresolvedCount  int           `json:"unresolved_count"`
	Discrepancies    []discrepancy `json:"discrepancies"`
	Fixed            []discrepancy `json:"fixed"`
}

func buildReport(orderCount, holdingCount, productCount int64, discrepancies, fixed, unresolved []discrepancy) reconciliationReport {
	return reconciliationReport{
		RunAt:            time.Now().UTC().Format(time.RFC3339),
		OrderCount:       orderCount,
		HoldingCount:     holdingCount,
		ProductCount:     productCount,
		DiscrepancyCount: len(discrepancies),
		FixedCount:       len(fixed),
		UnresolvedCount:  len(unresolved),
		Discrepancies:    discrepancies,
		Fixed:            fixed,
	}
}

func writeReport(path string, report reconciliationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func storeHistory(ctx context.Context, db *sql.DB, report reconciliationReport) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trading.reconciliation_history (
    id BIGSERIAL PRIMARY KEY,
    run_at TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL,
    report JSONB NOT NULL
);`)
	if err != nil {
		return err
	}
	status := "ok"
	if report.UnresolvedCount > 0 {
		status = "discrepancy"
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO trading.reconciliation_history (run_at, status, report)
VALUES ($1, $2, $3);`, report.RunAt, status, payload)
	return err
}
