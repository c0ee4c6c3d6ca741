package model

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	phoneCharsPattern  = regexp.MustCompile(`^[0-9+\-() ]+$`)
	simpleEmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// 入力検証ルール。作成入力のタグと更新パッチの個別検証で共有する。
const (
	ruleNumber      = "required,min=8,phonechars"
	ruleStatus      = "required,numberstatus"
	ruleDevice      = "omitempty,devicekind"
	ruleName        = "required,min=2"
	ruleEmail       = "omitempty,simpleemail"
	ruleGroupName   = "required"
	ruleURL         = "required,url"
	ruleDescription = "omitempty,max=2000"
)

// validate は入力検証に使う共有インスタンス。validator.Validateは並行利用に安全。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	mustRegister(v, "phonechars", func(fl validator.FieldLevel) bool {
		return phoneCharsPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "simpleemail", func(fl validator.FieldLevel) bool {
		return simpleEmailPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "numberstatus", func(fl validator.FieldLevel) bool {
		return NumberStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "devicekind", func(fl validator.FieldLevel) bool {
		return DeviceKind(fl.Field().String()).Valid()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// NewPhoneNumber は電話番号の作成入力。
// メッセージ数は常にサーバー側で0から始まるため入力には含まない。
type NewPhoneNumber struct {
	Number        string       `json:"number" validate:"required,min=8,phonechars"`
	Status        NumberStatus `json:"status" validate:"required,numberstatus"`
	ProjectID     string       `json:"project_id"`
	ResponsibleID string       `json:"responsible_id"`
	Device        DeviceKind   `json:"device" validate:"omitempty,devicekind"`
}

// NewProject はプロジェクトの作成入力。
type NewProject struct {
	Name        string `json:"name" validate:"required,min=2"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

// NewResponsible は担当者の作成入力。
type NewResponsible struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"omitempty,simpleemail"`
}

// NewGroupLink はグループリンクの作成入力。
type NewGroupLink struct {
	GroupName string `json:"group_name" validate:"required"`
	URL       string `json:"url" validate:"required,url"`
}

// Normalize は前後の空白を取り除く。
func (in *NewPhoneNumber) Normalize() {
	in.Number = strings.TrimSpace(in.Number)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ResponsibleID = strings.TrimSpace(in.ResponsibleID)
}

// Normalize は前後の空白を取り除く。
func (in *NewProject) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
}

// Normalize は前後の空白を取り除く。
func (in *NewResponsible) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
}

// Normalize は前後の空白を取り除く。
func (in *NewGroupLink) Normalize() {
	in.GroupName = strings.TrimSpace(in.GroupName)
	in.URL = strings.TrimSpace(in.URL)
}

// ValidateInput は作成入力をタグ定義に従って検証する。
// 違反がある場合はバリデーションエラーを返す。
func ValidateInput(in any) error {
	return toValidationError(validate.Struct(in))
}

// PhoneNumberPatch は電話番号の部分更新。nilのフィールドは変更しない。
// ProjectID・ResponsibleID・Deviceに空文字列を指定すると関連を解除する。
type PhoneNumberPatch struct {
	Number        *string       `json:"number,omitempty"`
	Status        *NumberStatus `json:"status,omitempty"`
	ProjectID     *string       `json:"project_id,omitempty"`
	ResponsibleID *string       `json:"responsible_id,omitempty"`
	Device        *DeviceKind   `json:"device,omitempty"`
}

// Empty は変更項目がないかどうかを返す。
func (p PhoneNumberPatch) Empty() bool {
	return p.Number == nil && p.Status == nil && p.ProjectID == nil &&
		p.ResponsibleID == nil && p.Device == nil
}

// Validate は指定されたフィールドのみを検証する。
func (p PhoneNumberPatch) Validate() error {
	if p.Empty() {
		return NewEmptyPatchError()
	}
	var fields []string
	fields = checkVar(fields, "number", p.Number, ruleNumber)
	if p.Status != nil {
		fields = checkVar(fields, "status", (*string)(p.Status), ruleStatus)
	}
	if p.Device != nil {
		fields = checkVar(fields, "device", (*string)(p.Device), ruleDevice)
	}
	return fieldsError(fields)
}

// ProjectPatch はプロジェクトの部分更新。Descriptionに空文字列を指定すると説明を消去する。
type ProjectPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty は変更項目がないかどうかを返す。
func (p ProjectPatch) Empty() bool {
	return p.Name == nil && p.Description == nil
}

// Validate は指定されたフィールドのみを検証する。
func (p ProjectPatch) Validate() error {
	if p.Empty() {
		return NewEmptyPatchError()
	}
	var fields []string
	fields = checkVar(fields, "name", p.Name, ruleName)
	fields = checkVar(fields, "description", p.Description, ruleDescription)
	return fieldsError(fields)
}

// ResponsiblePatch は担当者の部分更新。Emailに空文字列を指定するとメールアドレスを消去する。
type ResponsiblePatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// Empty は変更項目がないかどうかを返す。
func (p ResponsiblePatch) Empty() bool {
	return p.Name == nil && p.Email == nil
}

// Validate は指定されたフィールドのみを検証する。
func (p ResponsiblePatch) Validate() error {
	if p.Empty() {
		return NewEmptyPatchError()
	}
	var fields []string
	fields = checkVar(fields, "name", p.Name, ruleName)
	fields = checkVar(fields, "email", p.Email, ruleEmail)
	return fieldsError(fields)
}

// GroupLinkPatch はグループリンクの部分更新。
type GroupLinkPatch struct {
	GroupName *string `json:"group_name,omitempty"`
	URL       *string `json:"url,omitempty"`
}

// Empty は変更項目がないかどうかを返す。
func (p GroupLinkPatch) Empty() bool {
	return p.GroupName == nil && p.URL == nil
}

// Validate は指定されたフィールドのみを検証する。
func (p GroupLinkPatch) Validate() error {
	if p.Empty() {
		return NewEmptyPatchError()
	}
	var fields []string
	fields = checkVar(fields, "group_name", p.GroupName, ruleGroupName)
	fields = checkVar(fields, "url", p.URL, ruleURL)
	return fieldsError(fields)
}

// NullIfEmpty は空文字列をnilに変換する。作成入力の任意項目をNULLとして書き込むために使う。
func NullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func checkVar(fields []string, name string, value *string, rule string) []string {
	if value == nil {
		return fields
	}
	if err := validate.Var(strings.TrimSpace(*value), rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return append(fields, fmt.Sprintf("%s(%s)", name, verrs[0].Tag()))
		}
		return append(fields, name)
	}
	return fields
}

func fieldsError(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	return NewValidationError(fields...)
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		apiErr := NewValidationError(err.Error())
		apiErr.Err = err
		return apiErr
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	apiErr := NewValidationError(fields...)
	apiErr.Err = err
	return apiErr
}
