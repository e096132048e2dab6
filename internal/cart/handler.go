package cart

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nishanpoudel/kinmel-backend/internal/product"
	"github.com/nishanpoudel/kinmel-backend/internal/user"
)

// Handler delegates cart operations to the cart service. It also needs the
// product service to enrich cart entries with catalog details.
type Handler struct {
	service        *Service
	productService product.ServiceInterface
}

func NewHandler(s *Service, ps product.ServiceInterface) *Handler {
	return &Handler{service: s, productService: ps}
}

func (h *Handler) RegisterProtectedRoutes(app *fiber.App) {
	app.Get("/api/v1/cart", h.getCart)
	app.Post("/api/v1/cart", h.addToCart)
	app.Delete("/api/v1/cart", h.clearCart)
}

type cartRequest struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity,omitempty"`
}

type enrichedItem struct {
	CartItem
	Product *product.Product `json:"product,omitempty"`
}

func (h *Handler) addToCart(c *fiber.Ctx) error {
	payload := new(cartRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.ProductID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid productId"})
	}

	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	items, err := h.service.AddToCart(userID, payload.ProductID, payload.Quantity)
	if err != nil {
		if err == ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(h.enrich(items))
}

func (h *Handler) getCart(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	items, err := h.service.GetCart(userID)
	if err != nil {
		if err == ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(h.enrich(items))
}

func (h *Handler) clearCart(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}

	if err := h.service.ClearCart(userID); err != nil {
		if err == ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "cart cleared"})
}

// enrich attaches product details to cart entries when the catalog has them.
// Missing products are returned bare rather than dropped.
func (h *Handler) enrich(items []CartItem) []enrichedItem {
	out := make([]enrichedItem, 0, len(items))
	if h.productService == nil {
		for _, it := range items {
			out = append(out, enrichedItem{CartItem: it})
		}
		return out
	}

	ids := make([]int, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	prodMap := map[int]product.Product{}
	if prods, err := h.productService.ListByIDs(ids); err == nil {
		for _, p := range prods {
			prodMap[p.ID] = p
		}
	}

	for _, it := range items {
		e := enrichedItem{CartItem: it}
		if p, ok := prodMap[it.ProductID]; ok {
			cp := p
			e.Product = &cp
		}
		out = append(out, e)
	}
	return out
}
