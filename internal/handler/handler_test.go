package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/credential"
	"github.com/angeloszaimis/pinger/internal/handler"
	"github.com/angeloszaimis/pinger/internal/metrics"
	"github.com/angeloszaimis/pinger/internal/model"
	"github.com/angeloszaimis/pinger/internal/prober"
	"github.com/angeloszaimis/pinger/internal/service"
	"github.com/angeloszaimis/pinger/internal/session"
	"github.com/angeloszaimis/pinger/internal/storage"
	"github.com/angeloszaimis/pinger/internal/sweep"
	"github.com/angeloszaimis/pinger/pkg/logger"
)

const cookieName = "pinger_session"

type target struct {
	URL         string     `json:"url"`
	LastResult  string     `json:"last_result"`
	LastChecked *time.Time `json:"last_checked"`
	Up          bool       `json:"up"`
}

var _ = Describe("APIHandler", func() {
	var (
		mux    http.Handler
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		collector := metrics.NewCollector(16, logger.Discard(), nil)
		collector.Start(ctx)

		store, err := accounts.New(storage.NewMemory(), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		sessions := session.New(time.Hour)
		fixed := prober.Func(func(ctx context.Context, url string) model.Outcome {
			return model.Outcome{Status: "204 No Content", Elapsed: 7 * time.Millisecond, Success: true}
		})
		scheduler := sweep.New(store, fixed, sweep.Options{}, collector, logger.Discard())
		hasher := credential.NewHasher(credential.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1})
		svc := service.New(store, sessions, hasher, scheduler, collector, logger.Discard())

		api := handler.NewAPIHandler(logger.Discard(), svc, handler.Options{CookieName: cookieName, CookieTTL: time.Hour})
		m := http.NewServeMux()
		api.Routes(m)
		mux = api.Logging(m)
	})

	AfterEach(func() {
		cancel()
	})

	do := func(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	sessionCookie := func(rec *httptest.ResponseRecorder) *http.Cookie {
		for _, c := range rec.Result().Cookies() {
			if c.Name == cookieName {
				return c
			}
		}
		return nil
	}

	register := func(name string) *http.Cookie {
		rec := do(http.MethodPost, "/api/register", `{"username":"`+name+`","password":"secret"}`, nil)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		c := sessionCookie(rec)
		Expect(c).NotTo(BeNil())
		return c
	}

	decodeTargets := func(rec *httptest.ResponseRecorder) []target {
		var out []target
		Expect(json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out)).To(Succeed())
		return out
	}

	It("should answer the liveness probe", func() {
		rec := do(http.MethodGet, "/healthz", "", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"ok"`))
	})

	Describe("register", func() {
		It("should create the account and set an http-only session cookie", func() {
			rec := do(http.MethodPost, "/api/register", `{"username":"alice","password":"secret"}`, nil)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(rec.Body.String()).To(ContainSubstring(`"name":"alice"`))

			c := sessionCookie(rec)
			Expect(c).NotTo(BeNil())
			Expect(c.Value).To(HaveLen(64))
			Expect(c.HttpOnly).To(BeTrue())
		})

		It("should return conflict for a taken name", func() {
			register("alice")
			rec := do(http.MethodPost, "/api/register", `{"username":"alice","password":"x"}`, nil)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("should reject invalid input", func() {
			rec := do(http.MethodPost, "/api/register", `{"username":"","password":"secret"}`, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject malformed bodies", func() {
			rec := do(http.MethodPost, "/api/register", `{"username":`, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("login", func() {
		BeforeEach(func() {
			register("alice")
		})

		It("should set a fresh session cookie", func() {
			rec := do(http.MethodPost, "/api/login", `{"username":"alice","password":"secret"}`, nil)
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(sessionCookie(rec)).NotTo(BeNil())
		})

		It("should return unauthorized for bad credentials", func() {
			rec := do(http.MethodPost, "/api/login", `{"username":"alice","password":"nope"}`, nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(sessionCookie(rec)).To(BeNil())
		})
	})

	Describe("targets", func() {
		var cookie *http.Cookie

		BeforeEach(func() {
			cookie = register("alice")
		})

		It("should require a session", func() {
			rec := do(http.MethodGet, "/api/targets", "", nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should accept a bearer token", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/targets", nil)
			req.Header.Set("Authorization", "Bearer "+cookie.Value)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should add, list and remove targets", func() {
			rec := do(http.MethodPost, "/api/targets", `{"url":"https://example.com"}`, cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeTargets(rec)).To(HaveLen(1))

			rec = do(http.MethodGet, "/api/targets", "", cookie)
			targets := decodeTargets(rec)
			Expect(targets).To(HaveLen(1))
			Expect(targets[0].URL).To(Equal("https://example.com"))
			Expect(targets[0].LastChecked).To(BeNil())

			rec = do(http.MethodDelete, "/api/targets?url=https://example.com", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeTargets(rec)).To(BeEmpty())
		})

		It("should reject non-http schemes", func() {
			rec := do(http.MethodPost, "/api/targets", `{"url":"ftp://bad"}`, cookie)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			rec = do(http.MethodGet, "/api/targets", "", cookie)
			Expect(decodeTargets(rec)).To(BeEmpty())
		})

		It("should require the url parameter on delete", func() {
			rec := do(http.MethodDelete, "/api/targets", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should ping on demand and return the outcomes", func() {
			do(http.MethodPost, "/api/targets", `{"url":"https://example.com"}`, cookie)

			rec := do(http.MethodPost, "/api/ping", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))
			targets := decodeTargets(rec)
			Expect(targets).To(HaveLen(1))
			Expect(targets[0].LastResult).To(Equal("204 No Content (7ms)"))
			Expect(targets[0].LastChecked).NotTo(BeNil())
			Expect(targets[0].Up).To(BeTrue())
		})
	})

	Describe("stats", func() {
		It("should require a session", func() {
			rec := do(http.MethodGet, "/api/stats", "", nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should report only the caller's targets", func() {
			alice := register("alice")
			bob := register("bob")
			do(http.MethodPost, "/api/targets", `{"url":"https://alice.example"}`, alice)
			do(http.MethodPost, "/api/targets", `{"url":"https://bob.example"}`, bob)
			Expect(do(http.MethodPost, "/api/ping", "", alice).Code).To(Equal(http.StatusOK))
			Expect(do(http.MethodPost, "/api/ping", "", bob).Code).To(Equal(http.StatusOK))

			var stats map[string]metrics.TargetMetrics
			Eventually(func() map[string]metrics.TargetMetrics {
				rec := do(http.MethodGet, "/api/stats", "", alice)
				Expect(rec.Code).To(Equal(http.StatusOK))
				stats = nil
				Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
				return stats
			}).Should(HaveKey("https://alice.example"))

			Expect(stats).NotTo(HaveKey("https://bob.example"))
			Expect(stats["https://alice.example"].Probes).To(Equal(int64(1)))
		})
	})

	Describe("logout", func() {
		It("should end the session and clear the cookie", func() {
			cookie := register("alice")

			rec := do(http.MethodPost, "/api/logout", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			cleared := sessionCookie(rec)
			Expect(cleared).NotTo(BeNil())
			Expect(cleared.MaxAge).To(BeNumerically("<", 0))

			rec = do(http.MethodGet, "/api/targets", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})
})

var _ = Describe("APIHandler over a real server", func() {
	var srv *httptest.Server

	BeforeEach(func() {
		store, err := accounts.New(storage.NewMemory(), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		slow := prober.Func(func(ctx context.Context, url string) model.Outcome {
			time.Sleep(150 * time.Millisecond)
			return model.Outcome{Status: "200 OK", Elapsed: 150 * time.Millisecond, Success: true}
		})
		scheduler := sweep.New(store, slow, sweep.Options{}, nil, logger.Discard())
		hasher := credential.NewHasher(credential.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1})
		svc := service.New(store, session.New(time.Hour), hasher, scheduler, nil, logger.Discard())

		api := handler.NewAPIHandler(logger.Discard(), svc, handler.Options{
			CookieName:   cookieName,
			CookieTTL:    time.Hour,
			ProbeTimeout: 200 * time.Millisecond,
		})
		m := http.NewServeMux()
		api.Routes(m)

		srv = httptest.NewUnstartedServer(api.Logging(m))
		srv.Config.WriteTimeout = 100 * time.Millisecond
		srv.Start()
	})

	AfterEach(func() {
		srv.Close()
	})

	send := func(method, path, body, token string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := srv.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should answer a manual ping that outlasts the server write timeout", func() {
		resp := send(http.MethodPost, "/api/register", `{"username":"alice","password":"secret"}`, "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var token string
		for _, c := range resp.Cookies() {
			if c.Name == cookieName {
				token = c.Value
			}
		}
		Expect(token).NotTo(BeEmpty())

		for _, url := range []string{"https://a.example", "https://b.example"} {
			resp = send(http.MethodPost, "/api/targets", `{"url":"`+url+`"}`, token)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		}

		resp = send(http.MethodPost, "/api/ping", "", token)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var targets []target
		Expect(json.NewDecoder(resp.Body).Decode(&targets)).To(Succeed())
		Expect(targets).To(HaveLen(2))
		for _, t := range targets {
			Expect(t.LastResult).To(Equal("200 OK (150ms)"))
		}
	})
})
