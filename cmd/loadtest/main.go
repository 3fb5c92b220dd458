package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	http    *http.Client
	baseURL string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for user creation")
	value := flag.Int64("value", 1000, "product price")
	token := flag.String("card", "tok_visa", "card token submitted by every buyer")

	// 不超卖测试：200 个买家同时结算同一件商品
	nUsers := flag.Int("users", 200, "distinct buyers")
	concurrency := flag.Int("c", 50, "max concurrency")
	burst := flag.Int("burst", 50, "finalize requests from one buyer for the rate limit test (0 = skip)")
	flag.Parse()

	// 不跟随 302：回退跳转本身就是结果
	hc := &http.Client{
		Timeout:       15 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	cl := &client{http: hc, baseURL: *baseURL}
	admin := map[string]string{"X-Admin-Token": *adminToken}

	sellerTok, err := cl.createUser("seller", 0, admin)
	if err != nil {
		panic(fmt.Sprintf("create seller: %v", err))
	}
	productID, err := cl.createProduct(sellerTok, *value)
	if err != nil {
		panic(fmt.Sprintf("create product: %v", err))
	}
	fmt.Printf("product=%d value=%d\n", productID, *value)

	buyers := make([]string, *nUsers)
	for i := range buyers {
		tok, err := cl.createUser(fmt.Sprintf("buyer-%d", i+1), 0, admin)
		if err != nil {
			panic(fmt.Sprintf("create buyer %d: %v", i+1, err))
		}
		buyers[i] = tok
	}

	// 1) 前三步串行准备，保证所有人都进入 TokenSet
	ready := make([]string, 0, len(buyers))
	for _, tok := range buyers {
		if err := cl.prepare(tok, productID, *value, *token); err != nil {
			fmt.Println("prepare err:", err)
			continue
		}
		ready = append(ready, tok)
	}

	// 2) 并发结算
	fmt.Printf("start oversell test: buyers=%d concurrency=%d\n", len(ready), *concurrency)
	results := runParallel(ready, *concurrency, func(tok string) Result {
		return cl.do(http.MethodPost, "/api/checkout/finalize", tok, nil, nil)
	})
	summary := printSummary("oversell", results)
	if summary[http.StatusOK] > 1 {
		fmt.Printf("OVERSOLD: %d orders for one product\n", summary[http.StatusOK])
	} else {
		fmt.Printf("orders created: %d\n", summary[http.StatusOK])
	}

	// 3) 限流测试：同一个买家连续结算，超出窗口应返回 429
	if *burst > 0 && len(buyers) > 0 {
		same := make([]string, *burst)
		for i := range same {
			same[i] = buyers[0]
		}
		fmt.Printf("\nstart rate limit test: same buyer, %d requests\n", *burst)
		results2 := runParallel(same, *burst, func(tok string) Result {
			return cl.do(http.MethodPost, "/api/checkout/finalize", tok, nil, nil)
		})
		printSummary("rate_limit", results2)
	}
}

func (cl *client) prepare(tok string, productID uint, value int64, card string) error {
	steps := []struct {
		path string
		body any
	}{
		{fmt.Sprintf("/api/checkout/%d/confirm", productID), map[string]any{"quantity": 1, "point": 0, "total_amount": value}},
		{"/api/checkout/address", map[string]string{
			"first_name": "太郎", "last_name": "山田", "first_name_kana": "タロウ", "last_name_kana": "ヤマダ",
			"postal_code": "150-0001", "prefecture": "東京都", "address": "渋谷区神宮前1-1-1", "tel": "09012345678",
		}},
		{"/api/checkout/payment", map[string]string{"stripeToken": card}},
	}
	for _, s := range steps {
		r := cl.do(http.MethodPost, s.path, tok, s.body, nil)
		if r.Err != nil {
			return r.Err
		}
		if r.Status != http.StatusOK {
			return fmt.Errorf("%s status=%d body=%s", s.path, r.Status, r.Body)
		}
	}
	return nil
}

func (cl *client) createUser(name string, point int64, headers map[string]string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := cl.decode(cl.do(http.MethodPost, "/api/admin/users", "", map[string]any{"name": name, "point": point}, headers), &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (cl *client) createProduct(tok string, value int64) (uint, error) {
	var out struct {
		ID uint `json:"id"`
	}
	body := map[string]any{"name": "loadtest item", "value": value}
	if err := cl.decode(cl.do(http.MethodPost, "/api/products", tok, body, nil), &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (cl *client) decode(r Result, out any) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Status >= 300 {
		return fmt.Errorf("status=%d body=%s", r.Status, r.Body)
	}
	var env envelope
	if err := json.Unmarshal([]byte(r.Body), &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}

// do 发送请求，网络错误放在 Result.Err。
func (cl *client) do(method, path, tok string, body any, headers map[string]string) Result {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, cl.baseURL+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := cl.http.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

func runParallel(tokens []string, concurrency int, fn func(string) Result) []Result {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]Result, len(tokens))

	for i, tok := range tokens {
		wg.Add(1)
		go func(idx int, tok string) {
			defer wg.Done()
			<-start
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = fn(tok)
		}(i, tok)
	}
	close(start)
	wg.Wait()
	return results
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) map[int]int {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
	return count
}
