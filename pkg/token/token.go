package token

// Type identifies an operator reaching the back end. The front end resolves
// every operator spelling (.EQ., ==, MOD, **, //) to one of these.
type Type int

const (
	Invalid Type = iota
	Plus
	Minus
	Star
	Slash
	IDivide
	Exp
	Mod
	Concat
	Merge
	Lt
	Le
	Gt
	Ge
	Eq
	Ne
	And
	Or
	Xor
	Eqv
	Neqv
	Not
)

var OperatorMap = map[string]Type{
	"add":     Plus,
	"sub":     Minus,
	"mul":     Star,
	"div":     Slash,
	"idiv":    IDivide,
	"exp":     Exp,
	"mod":     Mod,
	"concat":  Concat,
	"merge":   Merge,
	"lt":      Lt,
	"le":      Le,
	"gt":      Gt,
	"ge":      Ge,
	"eq":      Eq,
	"ne":      Ne,
	"and":     And,
	"or":      Or,
	"xor":     Xor,
	"eqv":     Eqv,
	"neqv":    Neqv,
	"not":     Not,
	"minus":   Minus,
	"negate":  Minus,
	"unplus":  Plus,
	"percent": Mod,
}

// Reverse mapping from Type to its canonical interchange name
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range OperatorMap {
		if _, ok := TypeStrings[typ]; !ok || len(str) < len(TypeStrings[typ]) {
			TypeStrings[typ] = str
		}
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok { return s }
	return "invalid"
}

// IsRelational reports whether t compares two operands.
func (t Type) IsRelational() bool { return t >= Lt && t <= Ne }

// Token carries the source position of an AST node.
type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}

// IsLogical reports whether t combines two boolean operands.
func (t Type) IsLogical() bool { return t >= And && t <= Neqv }

// IsArithmetic reports whether t is a numeric binary operator.
func (t Type) IsArithmetic() bool { return t >= Plus && t <= Mod }
