package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-playground/validator/v10"
)

type CheckoutRequest struct {
	Name           string               `json:"name" validate:"required,max=100"`
	Email          string               `json:"email" validate:"required,email"`
	Phone          string               `json:"phone" validate:"required,phone"`
	Address        string               `json:"address" validate:"required,min=5,max=500"`
	PaymentMethod  domain.PaymentMethod `json:"paymentMethod" validate:"required,oneof=credit_card paypal bank_transfer cod"`
	PaymentDetails PaymentDetails       `json:"paymentDetails"`
}

// PaymentDetails holds the fields of every method; only the ones of the chosen method are checked.
type PaymentDetails struct {
	CardNumber    string `json:"cardNumber,omitempty"`
	CardHolder    string `json:"cardHolder,omitempty"`
	CVV           string `json:"cvv,omitempty"`
	Expiry        string `json:"expiryDate,omitempty"`
	PayPalEmail   string `json:"paypalEmail,omitempty"`
	BankName      string `json:"bankName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountHolder string `json:"accountHolder,omitempty"`
}

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{7,18}[0-9]$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
)

type detailRule struct {
	field string
	value func(PaymentDetails) string
	tag   string
}

var detailRules = map[domain.PaymentMethod][]detailRule{
	domain.PaymentCreditCard: {
		{"paymentDetails.cardNumber", func(d PaymentDetails) string { return d.CardNumber }, "required,card_number"},
		{"paymentDetails.cvv", func(d PaymentDetails) string { return d.CVV }, "required,digits,min=3,max=4"},
		{"paymentDetails.expiryDate", func(d PaymentDetails) string { return d.Expiry }, "required,card_expiry"},
	},
	domain.PaymentPayPal: {
		{"paymentDetails.paypalEmail", func(d PaymentDetails) string { return d.PayPalEmail }, "required,email"},
	},
	domain.PaymentBankTransfer: {
		{"paymentDetails.bankName", func(d PaymentDetails) string { return d.BankName }, "required,max=100"},
		{"paymentDetails.accountNumber", func(d PaymentDetails) string { return d.AccountNumber }, "required,digits,min=8,max=20"},
		{"paymentDetails.accountHolder", func(d PaymentDetails) string { return d.AccountHolder }, "required,max=100"},
	},
}

func newCheckoutValidator(now func() time.Time) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		return isDigits(fl.Field().String())
	})
	_ = v.RegisterValidation("card_number", func(fl validator.FieldLevel) bool {
		return validCardNumber(fl.Field().String())
	})
	_ = v.RegisterValidation("card_expiry", func(fl validator.FieldLevel) bool {
		return validExpiry(fl.Field().String(), now())
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(CheckoutRequest)
		for _, rule := range detailRules[req.PaymentMethod] {
			value := rule.value(req.PaymentDetails)
			if err := sl.Validator().Var(value, rule.tag); err != nil {
				var errs validator.ValidationErrors
				tag := "invalid"
				if errors.As(err, &errs) && len(errs) > 0 {
					tag = errs[0].Tag()
				}
				sl.ReportError(value, rule.field, rule.field, tag, "")
			}
		}
	}, CheckoutRequest{})

	return v
}

// validateCheckoutRequest returns a ValidationError listing every failing field.
func validateCheckoutRequest(v *validator.Validate, req *CheckoutRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)

	err := v.Struct(*req)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validate checkout request: %w", err)
	}

	verr := &ValidationError{Message: "invalid checkout details"}
	for _, fe := range errs {
		verr.Fields = append(verr.Fields, FieldError{Field: fieldName(fe), Message: tagMessage(fe)})
	}
	return verr
}

// fieldName strips the struct name the validator puts in front of the namespace.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "card_number":
		return "must be a valid card number"
	case "card_expiry":
		return "must be a valid MM/YY date that has not passed"
	case "digits":
		return "must contain digits only"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validCardNumber accepts 13 to 19 digits, optionally grouped by spaces or dashes,
// that pass the Luhn checksum.
func validCardNumber(s string) bool {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(s)
	if len(digits) < 13 || len(digits) > 19 || !isDigits(digits) {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validExpiry accepts MM/YY; a card is valid through the last day of its month.
func validExpiry(s string, now time.Time) bool {
	m := expiryPattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	year += 2000

	if year != now.Year() {
		return year > now.Year()
	}
	return month >= int(now.Month())
}
