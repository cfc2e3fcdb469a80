// playclient 命令行联调客户端：登录、连续游玩、查询统计，可选监听事件推送
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/models"
	"github.com/wfunc/probability-game/internal/service"
)

// PlayClient API 客户端
type PlayClient struct {
	BaseURL    string
	StudentID  string
	Token      string
	HTTPClient *http.Client
}

// NewPlayClient 创建客户端
func NewPlayClient(baseURL, studentID string) *PlayClient {
	return &PlayClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		StudentID: studentID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *PlayClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("JSON编码失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e apperrors.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return fmt.Errorf("HTTP %d [%d]: %s", resp.StatusCode, e.Code, e.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// Health 健康检查
func (c *PlayClient) Health() error {
	var resp map[string]interface{}
	if err := c.do(http.MethodGet, "/api/health", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("服务状态: %v 数据库: %v\n", resp["status"], resp["database"])
	return nil
}

// Login 登录并保存令牌
func (c *PlayClient) Login(name string, teacher bool) error {
	var resp struct {
		Success bool `json:"success"`
		service.LoginResponse
	}
	req := service.LoginRequest{StudentID: c.StudentID, Name: name, IsTeacher: teacher}
	if err := c.do(http.MethodPost, "/api/login", req, &resp); err != nil {
		return err
	}
	c.Token = resp.Token
	fmt.Printf("登录成功: %s 教师=%v 剩余次数=%d\n", c.StudentID, resp.IsTeacher, resp.RemainingAttempts)
	if resp.GameState != nil {
		fmt.Printf("   余额: %d 成功率: %d%%\n", resp.GameState.Balance, resp.GameState.SuccessProbability)
	}
	return nil
}

// Play 游玩一次，次数用完时返回 false
func (c *PlayClient) Play() (bool, error) {
	var resp struct {
		apperrors.ErrorResponse
		Result *game.Outcome `json:"result"`
	}
	if err := c.do(http.MethodPost, "/api/play", service.PlayRequest{StudentID: c.StudentID}, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		fmt.Printf("无法游玩: %s\n", resp.Message)
		return false, nil
	}

	r := resp.Result
	switch {
	case r.Win:
		fmt.Printf("通关! 余额 %d\n", r.NewBalance)
	case r.Success:
		fmt.Printf("成功: 余额 %d 成功率 %d%% 剩余 %d\n", r.NewBalance, r.NewProbability, r.RemainingAttempts)
	default:
		fmt.Printf("失败: 余额 %d 剩余 %d\n", r.NewBalance, r.RemainingAttempts)
	}
	return r.RemainingAttempts > 0, nil
}

// Stats 个人统计
func (c *PlayClient) Stats() error {
	var resp struct {
		Stats models.Stats `json:"stats"`
	}
	if err := c.do(http.MethodGet, "/api/stats/"+url.PathEscape(c.StudentID), nil, &resp); err != nil {
		return err
	}
	s := resp.Stats
	fmt.Printf("统计: 总次数 %d 成功 %d 失败 %d 最高 %d\n", s.TotalAttempts, s.SuccessCount, s.FailureCount, s.BestRecord)
	return nil
}

// Ranking 排行榜
func (c *PlayClient) Ranking(limit int) error {
	var resp struct {
		Ranking []models.RankingEntry `json:"ranking"`
	}
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/ranking?limit=%d", limit), nil, &resp); err != nil {
		return err
	}
	fmt.Println("排行榜:")
	for _, e := range resp.Ranking {
		fmt.Printf("   %2d. %-16s %8d (%d次)\n", e.Rank, e.StudentID, e.BestRecord, e.TotalAttempts)
	}
	return nil
}

// Watch 订阅事件推送直到中断
func (c *PlayClient) Watch(wsPath string, onlyMine bool) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = wsPath
	if onlyMine {
		u.RawQuery = url.Values{"studentId": {c.StudentID}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("WebSocket连接失败: %w", err)
	}
	defer conn.Close()
	fmt.Printf("已连接 %s，Ctrl+C 退出\n", u.String())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Println("读取错误:", err)
				return
			}
			fmt.Printf("事件: %s\n", msg)
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			return err
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return nil
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "服务地址")
	studentID := flag.String("student", "demo_student", "学号")
	name := flag.String("name", "", "姓名")
	teacher := flag.Bool("teacher", false, "以教师身份登录")
	plays := flag.Int("plays", 5, "最多游玩次数")
	watch := flag.Bool("watch", false, "结束后监听事件推送")
	wsPath := flag.String("ws", "/ws/events", "事件推送路径")
	mine := flag.Bool("mine", false, "只接收本学号的事件")
	flag.Parse()

	client := NewPlayClient(*baseURL, *studentID)
	fmt.Printf("目标服务器: %s\n", client.BaseURL)
	fmt.Println(strings.Repeat("=", 40))

	if err := client.Health(); err != nil {
		log.Fatalf("健康检查失败: %v", err)
	}
	if err := client.Login(*name, *teacher); err != nil {
		log.Fatalf("登录失败: %v", err)
	}

	for i := 0; i < *plays; i++ {
		more, err := client.Play()
		if err != nil {
			log.Fatalf("游玩失败: %v", err)
		}
		if !more {
			break
		}
	}

	if err := client.Stats(); err != nil {
		log.Printf("获取统计失败: %v", err)
	}
	if err := client.Ranking(10); err != nil {
		log.Printf("获取排行榜失败: %v", err)
	}

	if *watch {
		if err := client.Watch(*wsPath, *mine); err != nil {
			log.Fatalf("监听失败: %v", err)
		}
	}
}
