package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"netsentry/pkg/model"
)

const (
	ViewObservations = "observations"
	ViewThreats      = "threats"
	ViewLogs         = "logs"
)

type Config struct {
	Server string
	View   string
	IP     string
	Limit  int
}

// Run 拉取一个视图并以表格形式写到 out。指定 IP 时只查该地址的观测记录。
func Run(cfg Config, out io.Writer) error {
	path, err := viewPath(cfg)
	if err != nil {
		return err
	}
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return fmt.Errorf("server 参数非法：%w", err)
	}
	u.Path = path
	q := u.Query()
	if cfg.IP != "" {
		q.Set("ip", cfg.IP)
	}
	if cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(cfg.Limit))
	}
	u.RawQuery = q.Encode()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("查询失败：status=%s body=%s", resp.Status, string(b))
	}

	switch cfg.View {
	case ViewThreats:
		var rows []model.ThreatRecord
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return fmt.Errorf("解析响应 JSON 失败：%w", err)
		}
		renderThreats(out, rows)
	case ViewLogs:
		var rows []model.LogEntry
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return fmt.Errorf("解析响应 JSON 失败：%w", err)
		}
		renderLogs(out, rows)
	default:
		var rows []model.Observation
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return fmt.Errorf("解析响应 JSON 失败：%w", err)
		}
		renderObservations(out, rows)
	}
	return nil
}

func viewPath(cfg Config) (string, error) {
	switch cfg.View {
	case "", ViewObservations:
		if cfg.IP != "" {
			return "/api/v1/network-requests/query", nil
		}
		return "/api/v1/network-requests", nil
	case ViewThreats:
		return "/api/v1/threats", nil
	case ViewLogs:
		return "/api/v1/logs", nil
	default:
		return "", fmt.Errorf("未知视图：%s", cfg.View)
	}
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(out)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetRowLine(false)
	return t
}

func renderObservations(out io.Writer, rows []model.Observation) {
	t := newTable(out, []string{"Time", "Remote", "Proto", "Type", "Location", "Blacklisted", "PID", "Summary"})
	for _, r := range rows {
		t.Append([]string{
			r.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%s:%d", r.RemoteAddress, r.RemotePort),
			r.Protocol,
			r.ActivityLabel,
			r.CountryCity,
			strconv.FormatBool(r.Blacklisted),
			strconv.Itoa(r.PID),
			r.Summary,
		})
	}
	t.Render()
}

func renderThreats(out io.Writer, rows []model.ThreatRecord) {
	t := newTable(out, []string{"Time", "Remote", "Type", "Severity", "Source", "Description"})
	for _, r := range rows {
		t.Append([]string{
			r.Timestamp.Format(time.RFC3339),
			r.RemoteAddress,
			r.ThreatType,
			r.Severity,
			r.ObservationSource,
			r.Description,
		})
	}
	t.Render()
}

func renderLogs(out io.Writer, rows []model.LogEntry) {
	t := newTable(out, []string{"Time", "Level", "Message"})
	for _, r := range rows {
		t.Append([]string{r.Timestamp.Format(time.RFC3339), r.Level, r.Message})
	}
	t.Render()
}
