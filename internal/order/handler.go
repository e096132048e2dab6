package order

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/nishanpoudel/kinmel-backend/internal/payment"
	"github.com/nishanpoudel/kinmel-backend/internal/user"
)

// Handler dispatches HTTP requests to the order service. It owns identity
// extraction and status-code mapping and nothing else; every business rule
// lives in the service.
type Handler struct {
	service     *Service
	userService user.ServiceInterface
	frontendURL string
}

func NewHandler(s *Service, us user.ServiceInterface, frontendURL string) *Handler {
	return &Handler{service: s, userService: us, frontendURL: frontendURL}
}

// RegisterPublicRoutes adds the gateway callback receiver. It must stay
// outside the JWT middleware: the caller is the customer's browser redirected
// by the gateway, carrying no token.
func (h *Handler) RegisterPublicRoutes(app *fiber.App) {
	app.Get("/api/v1/orders/payment-callback", h.paymentCallback)
}

// RegisterProtectedRoutes adds the authenticated surface. Specific paths are
// registered before the ":id" routes to avoid param collisions.
func (h *Handler) RegisterProtectedRoutes(app *fiber.App) {
	app.Post("/api/v1/orders", h.createOrder)
	app.Get("/api/v1/orders/myorders", h.getMyOrders)
	app.Post("/api/v1/orders/initiate-khalti", h.initiateKhalti)
	app.Post("/api/v1/orders/verify-khalti", h.verifyKhalti)
	app.Post("/api/v1/orders/verify-payment", h.verifyPayment)
	app.Post("/api/v1/orders/initiate-esewa", h.initiateEsewa)
	app.Post("/api/v1/orders/verify-esewa", h.verifyEsewa)
	app.Get("/api/v1/orders", h.listOrders)
	app.Get("/api/v1/orders/:id", h.getOrder)
	app.Patch("/api/v1/orders/:id/status", h.updateStatus)
	app.Put("/api/v1/orders/:id/deliver", h.markDelivered)
}

type createOrderRequest struct {
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	TotalAmount     float64         `json:"totalAmount"`
}

func (h *Handler) createOrder(c *fiber.Ctx) error {
	payload := new(createOrderRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if len(payload.Items) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "no order items"})
	}
	if payload.TotalAmount < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "total must be non-negative"})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	email := ""
	if u, err := h.userService.GetByID(userID); err == nil {
		email = u.Email
	}

	created, err := h.service.Create(userID, CreateInput{
		Items:           payload.Items,
		ShippingAddress: payload.ShippingAddress,
		PaymentMethod:   payload.PaymentMethod,
		TotalAmount:     payload.TotalAmount,
		Email:           email,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *Handler) getMyOrders(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	orders, err := h.service.ListByUser(userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(orders)
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	ord, err := h.service.GetForUser(c.Params("id"), userID, user.IsAdminFromCtx(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ord)
}

func (h *Handler) listOrders(c *fiber.Ctx) error {
	if !user.IsAdminFromCtx(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "admin only"})
	}

	orders, err := h.service.ListAll()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(orders)
}

type initiateRequest struct {
	OrderID string `json:"orderId"`
}

func (h *Handler) initiateKhalti(c *fiber.Ctx) error {
	payload := new(initiateRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	usr, err := h.userService.GetByID(userID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	phone := usr.Phone
	if phone == "" {
		phone = "9800000000"
	}

	res, err := h.service.InitiateKhalti(c.UserContext(), payload.OrderID, userID, payment.Customer{
		Name:  usr.Name,
		Email: usr.Email,
		Phone: phone,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

type verifyKhaltiRequest struct {
	Pidx string `json:"pidx"`
}

func (h *Handler) verifyKhalti(c *fiber.Ctx) error {
	payload := new(verifyKhaltiRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.Pidx == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "pidx is required"})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	ord, err := h.service.VerifyKhalti(c.UserContext(), payload.Pidx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ord)
}

type verifyPaymentRequest struct {
	OrderID string `json:"orderId"`
	Pidx    string `json:"pidx"`
}

func (h *Handler) verifyPayment(c *fiber.Ctx) error {
	payload := new(verifyPaymentRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.OrderID == "" || payload.Pidx == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "orderId and pidx are required"})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	ord, err := h.service.VerifyKhaltiByOrder(c.UserContext(), payload.OrderID, payload.Pidx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ord)
}

func (h *Handler) initiateEsewa(c *fiber.Ctx) error {
	payload := new(initiateRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	res, err := h.service.InitiateEsewa(payload.OrderID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) verifyEsewa(c *fiber.Ctx) error {
	payload := new(initiateRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	email := ""
	if u, err := h.userService.GetByID(userID); err == nil {
		email = u.Email
	}

	ord, err := h.service.VerifyEsewa(c.UserContext(), payload.OrderID, userID, email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ord)
}

// paymentCallback receives the gateway's browser redirect. The consumer is a
// browser, not a machine: whatever happens, the response is a 302 to the
// frontend result page, with an error-status variant on failure.
func (h *Handler) paymentCallback(c *fiber.Ctx) error {
	cb := Callback{
		Pidx:              c.Query("pidx"),
		Status:            c.Query("status"),
		TransactionID:     c.Query("transaction_id"),
		Tidx:              c.Query("tidx"),
		Amount:            c.Query("amount"),
		Mobile:            c.Query("mobile"),
		PurchaseOrderID:   c.Query("purchase_order_id"),
		PurchaseOrderName: c.Query("purchase_order_name"),
		TotalAmount:       c.Query("total_amount"),
	}

	ord, err := h.service.HandleCallback(c.UserContext(), cb)
	if err != nil {
		return c.Redirect(h.frontendURL+"/payment/result?status=error", fiber.StatusFound)
	}

	q := url.Values{}
	q.Set("status", cb.Status)
	q.Set("orderId", ord.ID)
	return c.Redirect(h.frontendURL+"/payment/result?"+q.Encode(), fiber.StatusFound)
}

type updateStatusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) updateStatus(c *fiber.Ctx) error {
	if !user.IsAdminFromCtx(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "admin only"})
	}

	payload := new(updateStatusRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "status is required"})
	}

	ord, err := h.service.UpdateStatus(c.Params("id"), payload.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ord)
}

func (h *Handler) markDelivered(c *fiber.Ctx) error {
	if !user.IsAdminFromCtx(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "admin only"})
	}

	ord, err := h.service.MarkDelivered(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ord)
}

// respondError maps service errors onto the HTTP taxonomy: 400 validation
// and gateway failures, 401 ownership, 404 missing, 500 everything else.
func respondError(c *fiber.Ctx, err error) error {
	var gwErr *payment.GatewayError
	var incomplete *IncompleteError

	switch {
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Order not found"})
	case errors.Is(err, ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Not authorized"})
	case errors.Is(err, ErrEmptyItems), errors.Is(err, ErrInvalidItem),
		errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidPaymentMethod):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	case errors.As(err, &gwErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Failed to connect to payment service",
			"error":   gwErr.Message,
		})
	case errors.As(err, &incomplete):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": incomplete.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Server error"})
}
