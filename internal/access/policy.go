// Package access は顧客リソースに対するアクション単位のアクセス制御を提供する。
//
// 判定ルールはactionRulesテーブルに集約しており、
// 公開読み取り・認証済み書き込みの方針をこの1か所で確認できる。
package access

import "github.com/hitoshi/customerbook/internal/model"

// Action は顧客リソースに対する操作を表す。
type Action string

const (
	ActionList          Action = "list"
	ActionRetrieve      Action = "retrieve"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionPartialUpdate Action = "partial_update"
	ActionDestroy       Action = "destroy"
)

// Rule はアクションの許可条件を表す。
type Rule int

const (
	// RuleDeny はすべての呼び出し元を拒否する。未登録アクションの既定値。
	RuleDeny Rule = iota
	// RulePublic は認証状態に関係なく許可する。
	RulePublic
	// RuleAuthenticated は認証済みアイデンティティが存在する場合のみ許可する。
	RuleAuthenticated
)

// actionRules はアクションごとの許可条件。
// レコード単位の所有者チェックは行わない。
var actionRules = map[Action]Rule{
	ActionList:          RulePublic,
	ActionRetrieve:      RulePublic,
	ActionCreate:        RuleAuthenticated,
	ActionUpdate:        RuleAuthenticated,
	ActionPartialUpdate: RuleAuthenticated,
	ActionDestroy:       RuleAuthenticated,
}

// RuleFor はアクションに対応するルールを返す。
func RuleFor(action Action) Rule {
	return actionRules[action]
}

// Allowed はidentity（未認証の場合はnil）がactionを実行できるかを判定する。
func Allowed(action Action, identity *model.User) bool {
	switch RuleFor(action) {
	case RulePublic:
		return true
	case RuleAuthenticated:
		return identity != nil
	default:
		return false
	}
}

// Check はAllowedがfalseの場合に認証要求エラーを返す。
// 現在のテーブルには「認証済みだが拒否」のケースがないため、拒否は常に未認証として扱う。
func Check(action Action, identity *model.User) error {
	if Allowed(action, identity) {
		return nil
	}
	return model.NewAuthenticationRequiredError()
}
