package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/langchou/truckpark/internal/metrics"
)

var (
	// ErrNoReply 道闸控制器无响应、超时或返回了无法解析的内容
	ErrNoReply = errors.New("no reply from gate")
	// ErrUnknownGroup 未配置的道闸分组
	ErrUnknownGroup = errors.New("unknown gate group")
)

// Group 道闸分组
type Group string

const (
	Entry Group = "entry"
	Exit  Group = "exit"
)

// ParseGroup 解析命令行或配置中的分组名
func ParseGroup(s string) (Group, error) {
	switch Group(s) {
	case Entry, Exit:
		return Group(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// Sensor 控制器上的输入通道
type Sensor int

const (
	InductionLoop Sensor = iota // 地感线圈，有车时为 true
	BoomMissing                 // 闸杆脱落检测
)

func (s Sensor) String() string {
	if s == BoomMissing {
		return "boom"
	}
	return "loop"
}

// Direction 控制器上的继电器通道
type Direction int

const (
	Open Direction = iota
	Close
)

func (d Direction) String() string {
	if d == Close {
		return "close"
	}
	return "open"
}

// maxBodySize 控制器响应体上限
const maxBodySize = 64 << 10

// Client Shelly Pro 2 道闸控制器客户端
type Client struct {
	httpClient *http.Client
	groups     map[Group][]string
	metrics    *metrics.Metrics
}

// NewClient 创建道闸客户端，addresses 为 host 或 host:port
func NewClient(timeout time.Duration, entry, exit []string, m *metrics.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		groups: map[Group][]string{
			Entry: entry,
			Exit:  exit,
		},
		metrics: m,
	}
}

// inputStatus Input.GetStatus 响应
type inputStatus struct {
	State *bool `json:"state"`
}

// SensorState 读取分组第一个控制器的输入状态
func (c *Client) SensorState(ctx context.Context, group Group, sensor Sensor) (bool, error) {
	addrs, err := c.addresses(group)
	if err != nil {
		return false, err
	}
	return c.readInput(ctx, group, addrs[0], sensor)
}

// Actuate 并发触发分组内所有控制器，全部成功才算成功
func (c *Client) Actuate(ctx context.Context, group Group, direction Direction) error {
	addrs, err := c.addresses(group)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, addr := range addrs {
		g.Go(func() error {
			return c.setSwitch(ctx, group, addr, direction)
		})
	}
	return g.Wait()
}

// BoomStates 读取分组内每个控制器的闸杆脱落状态
func (c *Client) BoomStates(ctx context.Context, group Group) ([]bool, error) {
	addrs, err := c.addresses(group)
	if err != nil {
		return nil, err
	}

	states := make([]bool, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		g.Go(func() error {
			state, err := c.readInput(gctx, group, addr, BoomMissing)
			if err != nil {
				return err
			}
			states[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func (c *Client) addresses(group Group) ([]string, error) {
	addrs := c.groups[group]
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	return addrs, nil
}

func (c *Client) readInput(ctx context.Context, group Group, addr string, sensor Sensor) (state bool, err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveGate(string(group), sensor.String(), time.Since(start), err)
	}()

	url := fmt.Sprintf("http://%s/rpc/Input.GetStatus?id=%d", addr, int(sensor))
	body, err := c.doRequest(ctx, url)
	if err != nil {
		return false, err
	}

	var status inputStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("%w: decode input status from %s: %v", ErrNoReply, addr, err)
	}
	if status.State == nil {
		return false, fmt.Errorf("%w: input status from %s has no state", ErrNoReply, addr)
	}
	return *status.State, nil
}

func (c *Client) setSwitch(ctx context.Context, group Group, addr string, direction Direction) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveGate(string(group), direction.String(), time.Since(start), err)
	}()

	// 继电器脉冲 1 秒后自动复位
	url := fmt.Sprintf("http://%s/rpc/Switch.Set?id=%d&on=true&toggle_after=1", addr, int(direction))
	_, err = c.doRequest(ctx, url)
	return err
}

// doRequest 执行请求，任何失败都归为 ErrNoReply
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrNoReply, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoReply, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNoReply, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrNoReply, resp.StatusCode, string(body))
	}
	return body, nil
}
