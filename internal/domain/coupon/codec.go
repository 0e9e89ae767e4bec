package coupon

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EncodeDiscount writes the discount configuration payload. The discount type
// itself is stored next to it, not inside it.
func EncodeDiscount(e *jx.Encoder, d Discount) {
	e.ObjStart()
	switch v := d.(type) {
	case FixedAmount:
		encodeDecimalField(e, "value", v.Value)
	case Percentage:
		encodeDecimalField(e, "percent", v.Percent)
		encodeDecimalField(e, "maxDiscount", v.MaxDiscount)
		encodeDecimalField(e, "minOrderAmount", v.MinOrderAmount)
		if v.Base != "" {
			e.FieldStart("base")
			e.Str(string(v.Base))
		}
	case FreeShipping:
		encodeDecimalField(e, "maxAmount", v.MaxAmount)
	case BuyOneGetOne:
		e.FieldStart("buy")
		e.Int(v.Buy)
		e.FieldStart("get")
		e.Int(v.Get)
		encodeStrings(e, "products", v.Products)
		encodeStrings(e, "categories", v.Categories)
	case BundleDiscount:
		encodeStrings(e, "products", v.Products)
		encodeAmount(e, v.Amount)
	case MemberExclusive:
		encodeStrings(e, "levels", v.Levels)
		encodeAmount(e, v.Amount)
	case NewUserBonus:
		encodeAmount(e, v.Amount)
	case BirthdayGift:
		encodeAmount(e, v.Amount)
	case Cashback:
		encodeAmount(e, v.Amount)
	}
	e.ObjEnd()
}

// discountFields is the union of every discount payload field.
type discountFields struct {
	value, percent, maxDiscount, minOrder, maxAmount decimal.Decimal
	fixed, max                                       decimal.Decimal
	base                                             string
	buy, get                                         int
	products, categories, levels                     []string
}

// DecodeDiscount reads a discount configuration payload of type t.
func DecodeDiscount(t DiscountType, d *jx.Decoder) (Discount, error) {
	var f discountFields
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "value":
			f.value, err = decodeDecimal(d)
		case "percent":
			f.percent, err = decodeDecimal(d)
		case "maxDiscount":
			f.maxDiscount, err = decodeDecimal(d)
		case "minOrderAmount":
			f.minOrder, err = decodeDecimal(d)
		case "maxAmount":
			f.maxAmount, err = decodeDecimal(d)
		case "fixed":
			f.fixed, err = decodeDecimal(d)
		case "max":
			f.max, err = decodeDecimal(d)
		case "base":
			f.base, err = d.Str()
		case "buy":
			f.buy, err = d.Int()
		case "get":
			f.get, err = d.Int()
		case "products":
			f.products, err = decodeStrings(d)
		case "categories":
			f.categories, err = decodeStrings(d)
		case "levels":
			f.levels, err = decodeStrings(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode discount config")
	}

	amount := Amount{Fixed: f.fixed, Percent: f.percent, Max: f.max}
	switch t {
	case DiscountFixedAmount:
		return FixedAmount{Value: f.value}, nil
	case DiscountPercentage:
		return Percentage{
			Percent:        f.percent,
			MaxDiscount:    f.maxDiscount,
			MinOrderAmount: f.minOrder,
			Base:           CalculationBase(f.base),
		}, nil
	case DiscountFreeShipping:
		return FreeShipping{MaxAmount: f.maxAmount}, nil
	case DiscountBuyOneGetOne:
		if f.buy == 0 && f.get == 0 {
			f.buy, f.get = 1, 1
		}
		return BuyOneGetOne{Buy: f.buy, Get: f.get, Products: f.products, Categories: f.categories}, nil
	case DiscountBundle:
		return BundleDiscount{Products: f.products, Amount: amount}, nil
	case DiscountMemberExclusive:
		return MemberExclusive{Levels: f.levels, Amount: amount}, nil
	case DiscountNewUserBonus:
		return NewUserBonus{Amount: amount}, nil
	case DiscountBirthdayGift:
		return BirthdayGift{Amount: amount}, nil
	case DiscountCashback:
		return Cashback{Amount: amount}, nil
	default:
		return nil, errors.Errorf("unknown discount type %q", t)
	}
}

// EncodeConditions writes conditions as an array of {type, operator, value}.
func EncodeConditions(e *jx.Encoder, conds []Condition) {
	e.ArrStart()
	for _, c := range conds {
		e.ObjStart()
		e.FieldStart("type")
		e.Str(string(c.Type()))
		if op := conditionOperator(c); op != "" {
			e.FieldStart("operator")
			e.Str(op)
		}
		e.FieldStart("value")
		switch v := c.(type) {
		case MinOrderAmount:
			e.Str(v.Amount.String())
		case MinQuantity:
			e.Int(v.Quantity)
		case MemberLevel:
			encodeStringArr(e, v.Levels)
		case FirstOrder:
			e.Bool(v.Required)
		case ProductCategory:
			encodeStringArr(e, v.Categories)
		case Brand:
			encodeStringArr(e, v.Brands)
		case DayOfWeek:
			e.ArrStart()
			for _, day := range v.Days {
				e.Int(int(day))
			}
			e.ArrEnd()
		case TimeRange:
			e.ObjStart()
			e.FieldStart("start")
			e.Str(formatClock(v.Start))
			e.FieldStart("end")
			e.Str(formatClock(v.End))
			e.ObjEnd()
		case Location:
			encodeStringArr(e, v.Regions)
		case PaymentMethod:
			encodeStringArr(e, v.Methods)
		case UnknownCondition:
			if len(v.Raw) > 0 {
				e.Raw(v.Raw)
			} else {
				e.Null()
			}
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func conditionOperator(c Condition) string {
	switch v := c.(type) {
	case MinOrderAmount:
		return string(v.Op)
	case MinQuantity:
		return string(v.Op)
	case MemberLevel:
		return string(v.Op)
	case ProductCategory:
		return string(v.Op)
	case Brand:
		return string(v.Op)
	case DayOfWeek:
		return string(v.Op)
	case Location:
		return string(v.Op)
	case PaymentMethod:
		return string(v.Op)
	case UnknownCondition:
		return v.Op
	}
	return ""
}

// DecodeConditions reads an array of conditions. Unrecognised kinds become
// UnknownCondition values rather than errors.
func DecodeConditions(d *jx.Decoder) ([]Condition, error) {
	var out []Condition
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			kind, op string
			raw      jx.Raw
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "type":
				kind, err = d.Str()
			case "operator":
				op, err = d.Str()
			case "value":
				raw, err = d.Raw()
				raw = append(jx.Raw(nil), raw...)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		c, err := decodeCondition(kind, Operator(op), raw)
		if err != nil {
			return errors.Wrapf(err, "condition %q", kind)
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode conditions")
	}
	return out, nil
}

func decodeCondition(kind string, op Operator, raw jx.Raw) (Condition, error) {
	d := jx.DecodeBytes(raw)
	switch ConditionType(kind) {
	case ConditionMinOrderAmount:
		v, err := decodeDecimal(d)
		return MinOrderAmount{Op: op, Amount: v}, err
	case ConditionMinQuantity:
		v, err := d.Int()
		return MinQuantity{Op: op, Quantity: v}, err
	case ConditionMemberLevel:
		v, err := decodeStrings(d)
		return MemberLevel{Op: op, Levels: v}, err
	case ConditionFirstOrder:
		v, err := d.Bool()
		return FirstOrder{Required: v}, err
	case ConditionProductCategory:
		v, err := decodeStrings(d)
		return ProductCategory{Op: op, Categories: v}, err
	case ConditionBrand:
		v, err := decodeStrings(d)
		return Brand{Op: op, Brands: v}, err
	case ConditionDayOfWeek:
		var days []time.Weekday
		err := d.Arr(func(d *jx.Decoder) error {
			n, err := d.Int()
			days = append(days, time.Weekday(n))
			return err
		})
		return DayOfWeek{Op: op, Days: days}, err
	case ConditionTimeRange:
		var tr TimeRange
		err := d.Obj(func(d *jx.Decoder, key string) error {
			s, err := d.Str()
			if err != nil {
				return err
			}
			m, err := parseClock(s)
			if err != nil {
				return err
			}
			switch key {
			case "start":
				tr.Start = m
			case "end":
				tr.End = m
			}
			return nil
		})
		return tr, err
	case ConditionLocation:
		v, err := decodeStrings(d)
		return Location{Op: op, Regions: v}, err
	case ConditionPaymentMethod:
		v, err := decodeStrings(d)
		return PaymentMethod{Op: op, Methods: v}, err
	default:
		return UnknownCondition{Kind: kind, Op: string(op), Raw: raw}, nil
	}
}

// Encode writes the full definition as a JSON object.
func (def *Definition) Encode(e *jx.Encoder) {
	e.ObjStart()
	encodeStrField(e, "id", def.ID)
	encodeStrField(e, "code", def.Code)
	encodeStrField(e, "name", def.Name)
	encodeStrField(e, "description", def.Description)
	encodeStrField(e, "discountType", string(def.Type))
	if def.Discount != nil {
		e.FieldStart("discountConfig")
		EncodeDiscount(e, def.Discount)
	}
	e.FieldStart("conditions")
	EncodeConditions(e, def.Conditions)
	e.Field("limitations", func(e *jx.Encoder) {
		e.ObjStart()
		encodeIntField(e, "totalUsageLimit", def.Limits.TotalUsage)
		encodeIntField(e, "perUserLimit", def.Limits.PerUser)
		encodeIntField(e, "dailyLimit", def.Limits.Daily)
		e.ObjEnd()
	})
	e.Field("validity", func(e *jx.Encoder) {
		e.ObjStart()
		encodeStrField(e, "validityType", string(def.Validity.Kind))
		encodeTimeField(e, "startDate", def.Validity.Start)
		encodeTimeField(e, "endDate", def.Validity.End)
		encodeIntField(e, "validityDays", def.Validity.Days)
		e.ObjEnd()
	})
	e.Field("stackingRule", func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("priority")
		e.Int(def.Stacking.Priority)
		encodeStrField(e, "stackingType", string(def.Stacking.Type))
		encodeTypes(e, "compatibleTypes", def.Stacking.CompatibleTypes)
		encodeTypes(e, "incompatibleTypes", def.Stacking.IncompatibleTypes)
		encodeIntField(e, "maxStackCount", def.Stacking.MaxStackCount)
		e.ObjEnd()
	})
	encodeStrField(e, "status", string(def.Status))
	encodeTimeField(e, "createdAt", def.CreatedAt)
	encodeTimeField(e, "updatedAt", def.UpdatedAt)
	e.ObjEnd()
}

// Decode reads a definition written by Encode.
func (def *Definition) Decode(d *jx.Decoder) error {
	var config jx.Raw
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			def.ID, err = d.Str()
		case "code":
			def.Code, err = d.Str()
		case "name":
			def.Name, err = d.Str()
		case "description":
			def.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			def.Type = DiscountType(s)
		case "discountConfig":
			config, err = d.Raw()
			config = append(jx.Raw(nil), config...)
		case "conditions":
			def.Conditions, err = DecodeConditions(d)
		case "limitations":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "totalUsageLimit":
					def.Limits.TotalUsage, err = d.Int()
				case "perUserLimit":
					def.Limits.PerUser, err = d.Int()
				case "dailyLimit":
					def.Limits.Daily, err = d.Int()
				default:
					err = d.Skip()
				}
				return err
			})
		case "validity":
			err = def.Validity.decode(d)
		case "stackingRule":
			err = def.Stacking.decode(d)
		case "status":
			var s string
			s, err = d.Str()
			def.Status = Status(s)
		case "createdAt":
			def.CreatedAt, err = decodeTime(d)
		case "updatedAt":
			def.UpdatedAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "decode definition")
	}
	if len(config) > 0 {
		disc, err := DecodeDiscount(def.Type, jx.DecodeBytes(config))
		if err != nil {
			return err
		}
		def.Discount = disc
	}
	return nil
}

func (v *Validity) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "validityType":
			var s string
			s, err = d.Str()
			v.Kind = ValidityKind(s)
		case "startDate":
			v.Start, err = decodeTime(d)
		case "endDate":
			v.End, err = decodeTime(d)
		case "validityDays":
			v.Days, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
}

func (r *StackingRule) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "priority":
			r.Priority, err = d.Int()
		case "stackingType":
			var s string
			s, err = d.Str()
			r.Type = StackingType(s)
		case "compatibleTypes":
			r.CompatibleTypes, err = DecodeTypes(d)
		case "incompatibleTypes":
			r.IncompatibleTypes, err = DecodeTypes(d)
		case "maxStackCount":
			r.MaxStackCount, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
}

// DecodeTypes reads an array of discount type names.
func DecodeTypes(d *jx.Decoder) ([]DiscountType, error) {
	ss, err := decodeStrings(d)
	if err != nil {
		return nil, err
	}
	out := make([]DiscountType, len(ss))
	for i, s := range ss {
		out[i] = DiscountType(s)
	}
	return out, nil
}

func encodeTypes(e *jx.Encoder, name string, ts []DiscountType) {
	e.FieldStart(name)
	e.ArrStart()
	for _, t := range ts {
		e.Str(string(t))
	}
	e.ArrEnd()
}

func encodeAmount(e *jx.Encoder, a Amount) {
	encodeDecimalField(e, "fixed", a.Fixed)
	encodeDecimalField(e, "percent", a.Percent)
	encodeDecimalField(e, "max", a.Max)
}

func encodeDecimalField(e *jx.Encoder, name string, v decimal.Decimal) {
	if v.IsZero() {
		return
	}
	e.FieldStart(name)
	e.Str(v.String())
}

func encodeStrField(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.FieldStart(name)
	e.Str(v)
}

func encodeIntField(e *jx.Encoder, name string, v int) {
	if v == 0 {
		return
	}
	e.FieldStart(name)
	e.Int(v)
}

func encodeTimeField(e *jx.Encoder, name string, t time.Time) {
	if t.IsZero() {
		return
	}
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeStrings(e *jx.Encoder, name string, ss []string) {
	if len(ss) == 0 {
		return
	}
	e.FieldStart(name)
	encodeStringArr(e, ss)
}

func encodeStringArr(e *jx.Encoder, ss []string) {
	e.ArrStart()
	for _, s := range ss {
		e.Str(s)
	}
	e.ArrEnd()
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

func formatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, errors.Wrapf(err, "parse clock %q", s)
	}
	return h*60 + m, nil
}
