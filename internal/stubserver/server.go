// Package stubserver is a development replica of the PayGate backend:
// the CSRF endpoint, session-cookie auth and the payment API, backed by
// an in-memory (or Redis) transaction store. It exists so the client and
// its tests can run without the real backend; it is not a production
// server and keeps no database.
package stubserver

import (
	"crypto/hmac"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"paygate-client/internal/gateway"
	"paygate-client/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type stubUser struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Server implements the consumed API surface.
type Server struct {
	store     TransactionStore
	events    EventPublisher
	logger    *zap.Logger
	keyID     string
	keySecret string
	currency  string

	mu       sync.Mutex
	users    map[string]*stubUser // by email
	sessions map[string]int64     // session cookie -> user id
	userSeq  int64
}

func NewServer(store TransactionStore, events EventPublisher, keyID, keySecret, currency string) *Server {
	if events == nil {
		events = NopPublisher{}
	}
	return &Server{
		store:     store,
		events:    events,
		logger:    util.NamedLogger("stubserver"),
		keyID:     keyID,
		keySecret: keySecret,
		currency:  currency,
		users:     make(map[string]*stubUser),
		sessions:  make(map[string]int64),
	}
}

// SetupRoutes registers the API under /api.
func (s *Server) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(s.csrfMiddleware())
	{
		api.GET("/csrf/", s.csrfToken)
		api.POST("/auth/signup/", s.signup)
		api.POST("/auth/login/", s.login)

		authed := api.Group("")
		authed.Use(s.authMiddleware())
		{
			authed.GET("/auth/user/", s.currentUser)
			authed.POST("/auth/logout/", s.logout)
			authed.POST("/payments/create-order/", s.createOrder)
			authed.POST("/payments/verify/", s.verifyPayment)
			authed.GET("/payments/transactions/", s.transactionHistory)
			authed.GET("/payments/transactions/:id/", s.transactionDetail)
		}
	}
}

// csrfMiddleware enforces the double-submit check on mutating requests:
// the X-CSRFToken header must match the csrftoken cookie.
func (s *Server) csrfMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		cookie, err := c.Cookie("csrftoken")
		header := c.GetHeader("X-CSRFToken")
		if err != nil || cookie == "" || header != cookie {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"detail": "CSRF Failed: CSRF token missing or incorrect.",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie("sessionid")
		if err != nil || sid == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		s.mu.Lock()
		userID, ok := s.sessions[sid]
		s.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) userByID(id int64) *stubUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func serializeUser(u *stubUser) gin.H {
	return gin.H{
		"id":         u.ID,
		"username":   u.Email,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
	}
}

func serializeTransaction(tx *StoredTransaction) gin.H {
	return gin.H{
		"id":                  tx.ID,
		"order_id":            tx.OrderID,
		"razorpay_order_id":   tx.GatewayOrderID,
		"razorpay_payment_id": tx.GatewayPaymentID,
		"amount":              tx.Amount,
		"currency":            tx.Currency,
		"description":         tx.Description,
		"status":              tx.Status,
		"created_at":          tx.CreatedAt.Format(time.RFC3339),
		"updated_at":          tx.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) csrfToken(c *gin.Context) {
	token := uuid.New().String()
	c.SetCookie("csrftoken", token, 3600, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{"csrfToken": token, "message": "CSRF cookie set."})
}

func (s *Server) signup(c *gin.Context) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Password1 string `json:"password1"`
		Password2 string `json:"password2"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password1 == "" || req.Password2 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required."})
		return
	}
	if req.Password1 != req.Password2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Passwords do not match."})
		return
	}
	s.mu.Lock()
	if _, exists := s.users[req.Email]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email already registered."})
		return
	}

	s.userSeq++
	user := &stubUser{
		ID:        s.userSeq,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password1,
	}
	s.users[req.Email] = user
	s.mu.Unlock()
	s.logger.Info("user registered", zap.String("email", user.Email))

	c.JSON(http.StatusCreated, gin.H{"message": "Account created.", "user": serializeUser(user)})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password required."})
		return
	}

	s.mu.Lock()
	user, exists := s.users[req.Email]
	s.mu.Unlock()
	if !exists || user.Password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password."})
		return
	}

	sid := uuid.New().String()
	s.mu.Lock()
	s.sessions[sid] = user.ID
	s.mu.Unlock()
	c.SetCookie("sessionid", sid, 3600, "/", "", false, true)

	c.JSON(http.StatusOK, gin.H{"message": "Login successful.", "user": serializeUser(user)})
}

func (s *Server) logout(c *gin.Context) {
	if sid, err := c.Cookie("sessionid"); err == nil {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
	}
	c.SetCookie("sessionid", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out."})
}

func (s *Server) currentUser(c *gin.Context) {
	user := s.userByID(c.GetInt64("userID"))
	if user == nil {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Authentication credentials were not provided."})
		return
	}
	c.JSON(http.StatusOK, serializeUser(user))
}

func (s *Server) createOrder(c *gin.Context) {
	var req struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"amount": []string{"Enter a valid number."}})
		return
	}
	if req.Amount < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"amount": []string{"Amount must be at least 1."}})
		return
	}
	description := req.Description
	if description == "" {
		description = "Payment"
	}

	user := s.userByID(c.GetInt64("userID"))
	ctx := c.Request.Context()

	id, err := s.store.NextID(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error creating order: %v", err)})
		return
	}

	amountMinor := int64(req.Amount*100 + 0.5)
	now := time.Now().UTC()
	tx := &StoredTransaction{
		ID:             id,
		UserID:         user.ID,
		OrderID:        fmt.Sprintf("ORD_%d_%d", user.ID, id),
		GatewayOrderID: "order_" + uuid.New().String()[:12],
		Amount:         strconv.FormatFloat(req.Amount, 'f', -1, 64),
		Currency:       s.currency,
		Description:    description,
		Status:         "PENDING",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, tx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error creating order: %v", err)})
		return
	}

	if err := s.events.Publish(ctx, EventTypeOrderCreated, tx, "Order created: "+tx.GatewayOrderID); err != nil {
		s.logger.Error("failed to publish order event", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction":       serializeTransaction(tx),
		"razorpay_key_id":   s.keyID,
		"razorpay_order_id": tx.GatewayOrderID,
		"amount":            tx.Amount,
		"amount_in_paise":   amountMinor,
		"currency":          tx.Currency,
		"description":       description,
		"user_name":         user.FirstName + " " + user.LastName,
		"user_email":        user.Email,
	})
}

func (s *Server) verifyPayment(c *gin.Context) {
	var req struct {
		GatewayOrderID   string `json:"razorpay_order_id"`
		GatewayPaymentID string `json:"razorpay_payment_id"`
		Signature        string `json:"razorpay_signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	ctx := c.Request.Context()
	tx, err := s.store.GetByGatewayOrderID(ctx, req.GatewayOrderID)
	if err != nil || tx.UserID != c.GetInt64("userID") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found."})
		return
	}

	expected := gateway.Sign(req.GatewayOrderID, req.GatewayPaymentID, s.keySecret)
	if hmac.Equal([]byte(expected), []byte(req.Signature)) {
		tx.GatewayPaymentID = req.GatewayPaymentID
		tx.Signature = req.Signature
		tx.Status = "SUCCESS"
		tx.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, tx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error verifying payment: %v", err)})
			return
		}
		if err := s.events.Publish(ctx, EventTypePaymentSuccess, tx, "Payment verified successfully"); err != nil {
			s.logger.Error("failed to publish payment event", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"message": "Payment successful.", "transaction": serializeTransaction(tx)})
		return
	}

	tx.Status = "FAILED"
	tx.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, tx); err != nil {
		s.logger.Error("failed to persist failed transaction", zap.Error(err))
	}
	if err := s.events.Publish(ctx, EventTypeSignatureFailed, tx, "Signature verification failed"); err != nil {
		s.logger.Error("failed to publish payment event", zap.Error(err))
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Payment verification failed."})
}

func (s *Server) transactionHistory(c *gin.Context) {
	txs, err := s.store.ListByUser(c.Request.Context(), c.GetInt64("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error listing transactions: %v", err)})
		return
	}

	out := make([]gin.H, 0, len(txs))
	for _, tx := range txs {
		out = append(out, serializeTransaction(tx))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) transactionDetail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID."})
		return
	}

	tx, err := s.store.Get(c.Request.Context(), id)
	if err != nil || tx.UserID != c.GetInt64("userID") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found."})
		return
	}
	c.JSON(http.StatusOK, serializeTransaction(tx))
}
