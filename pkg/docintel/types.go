package docintel

type operation struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
	Error         *serviceError  `json:"error"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	ModelID   string             `json:"modelId"`
	Documents []analyzedDocument `json:"documents"`
}

type analyzedDocument struct {
	DocType    string                   `json:"docType"`
	Confidence float64                  `json:"confidence"`
	Fields     map[string]documentField `json:"fields"`
}

type currencyValue struct {
	Amount         float64 `json:"amount"`
	CurrencySymbol string  `json:"currencySymbol,omitempty"`
	CurrencyCode   string  `json:"currencyCode,omitempty"`
}

type documentField struct {
	Type               string                   `json:"type"`
	Confidence         float64                  `json:"confidence"`
	ValueString        *string                  `json:"valueString"`
	ValueDate          *string                  `json:"valueDate"`
	ValueTime          *string                  `json:"valueTime"`
	ValuePhoneNumber   *string                  `json:"valuePhoneNumber"`
	ValueCountryRegion *string                  `json:"valueCountryRegion"`
	ValueSelectionMark *string                  `json:"valueSelectionMark"`
	ValueSignature     *string                  `json:"valueSignature"`
	ValueNumber        *float64                 `json:"valueNumber"`
	ValueInteger       *int64                   `json:"valueInteger"`
	ValueBoolean       *bool                    `json:"valueBoolean"`
	ValueCurrency      *currencyValue           `json:"valueCurrency"`
	ValueAddress       map[string]interface{}   `json:"valueAddress"`
	ValueArray         []documentField          `json:"valueArray"`
	ValueObject        map[string]documentField `json:"valueObject"`
}

// value returns the typed value of a field. Fields that only carry raw
// content have no value.
func (f documentField) value() (interface{}, bool) {
	switch f.Type {
	case "string":
		return deref(f.ValueString)
	case "date":
		return deref(f.ValueDate)
	case "time":
		return deref(f.ValueTime)
	case "phoneNumber":
		return deref(f.ValuePhoneNumber)
	case "countryRegion":
		return deref(f.ValueCountryRegion)
	case "selectionMark":
		return deref(f.ValueSelectionMark)
	case "signature":
		return deref(f.ValueSignature)
	case "number":
		if f.ValueNumber != nil {
			return *f.ValueNumber, true
		}
	case "integer":
		if f.ValueInteger != nil {
			return *f.ValueInteger, true
		}
	case "boolean":
		if f.ValueBoolean != nil {
			return *f.ValueBoolean, true
		}
	case "currency":
		if f.ValueCurrency != nil {
			return *f.ValueCurrency, true
		}
	case "address":
		if f.ValueAddress != nil {
			return f.ValueAddress, true
		}
	case "array":
		if f.ValueArray != nil {
			items := make([]interface{}, 0, len(f.ValueArray))
			for _, item := range f.ValueArray {
				if v, ok := item.value(); ok {
					items = append(items, v)
				}
			}
			return items, true
		}
	case "object":
		if f.ValueObject != nil {
			obj := make(map[string]interface{}, len(f.ValueObject))
			for name, item := range f.ValueObject {
				if v, ok := item.value(); ok {
					obj[name] = v
				}
			}
			return obj, true
		}
	}
	return nil, false
}

func deref(s *string) (interface{}, bool) {
	if s == nil {
		return nil, false
	}
	return *s, true
}
