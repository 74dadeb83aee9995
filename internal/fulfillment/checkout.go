package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/validation"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/payments"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const customerSource = "form_submission"

type CustomerInput struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

type FormSubmission struct {
	ProjectID     uuid.UUID     `json:"project_id"`
	SalespersonID uuid.UUID     `json:"salesperson_id"`
	Customer      CustomerInput `json:"customer_data"`
}

type Checkout struct {
	CheckoutURL   string    `json:"checkout_url"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// SubmitForm records the customer and a pending sale, then opens a checkout
// session for it. Stock is checked here but only claimed once payment
// succeeds.
func (s *Service) SubmitForm(ctx context.Context, in FormSubmission) (*Checkout, error) {
	email := auth.NormalizeEmail(in.Customer.Email)
	name := strings.TrimSpace(in.Customer.Name)
	if in.ProjectID == uuid.Nil || in.SalespersonID == uuid.Nil || email == "" || name == "" {
		return nil, ErrMissingFields
	}
	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	var project models.Project
	err := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", in.ProjectID, models.ProjectStatusActive).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	var assignment models.ProjectAssignment
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND salesperson_id = ? AND status = ?", in.ProjectID, in.SalespersonID, models.AssignmentActive).
		First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidAssignment
	}
	if err != nil {
		return nil, fmt.Errorf("loading assignment: %w", err)
	}

	if project.StripePriceID == "" {
		return nil, ErrPaymentNotConfigured
	}

	customer, err := s.upsertCustomer(ctx, email, name, in.Customer)
	if err != nil {
		return nil, err
	}

	available, err := s.inventory.CountAvailable(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if available == 0 {
		return nil, ErrOutOfStock
	}

	txn := &models.SalesTransaction{
		ProjectID:         project.ID,
		SalespersonID:     in.SalespersonID,
		CustomerID:        customer.ID,
		Amount:            project.Price,
		CommissionRate:    project.CommissionRate,
		CommissionAmount:  Commission(project.Price, project.CommissionRate),
		PaymentStatus:     models.PaymentPending,
		FulfillmentStatus: models.FulfillmentPending,
	}
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	formPath := assignment.FormURL
	if !strings.HasPrefix(formPath, "/") {
		formPath = "/" + formPath
	}

	session, err := s.gateway.CreateCheckout(ctx, payments.CheckoutRequest{
		PriceID:       project.StripePriceID,
		CustomerEmail: customer.Email,
		Metadata: map[string]string{
			"transaction_id": txn.ID.String(),
			"project_id":     project.ID.String(),
			"salesperson_id": in.SalespersonID.String(),
		},
		SuccessURL: s.baseURL + "/form/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.baseURL + formPath + "?cancelled=true",
	})
	if err != nil {
		if uerr := s.db.WithContext(ctx).Model(txn).Update("payment_status", models.PaymentFailed).Error; uerr != nil {
			s.logger.Error("failed to mark checkout failed", "transaction_id", txn.ID, "error", uerr)
		}
		return nil, fmt.Errorf("opening checkout: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(txn).Update("checkout_session_id", session.ID).Error; err != nil {
		s.logger.Warn("failed to store checkout session", "transaction_id", txn.ID, "error", err)
	}

	s.logger.Info("checkout opened",
		"transaction_id", txn.ID,
		"project_id", project.ID,
		"salesperson_id", in.SalespersonID,
	)
	return &Checkout{CheckoutURL: session.URL, TransactionID: txn.ID}, nil
}

func (s *Service) upsertCustomer(ctx context.Context, email, name string, in CustomerInput) (*models.Customer, error) {
	customer := models.Customer{
		Email:   email,
		Name:    validation.CleanText(name, 120),
		Phone:   strings.TrimSpace(in.Phone),
		Address: strings.TrimSpace(in.Address),
		City:    strings.TrimSpace(in.City),
		Country: strings.TrimSpace(in.Country),
		Source:  customerSource,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "address", "city", "country", "updated_at"}),
		}).Create(&customer).Error; err != nil {
			return fmt.Errorf("saving customer: %w", err)
		}
		// The insert may have hit an existing row, so read back its ID.
		return tx.Where("email = ?", email).First(&customer).Error
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// Commission returns rate percent of amount, rounded to cents.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}
