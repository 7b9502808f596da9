package model

import "time"

// Customer は顧客レコードを表す。
// ID・CreatedAtはサーバー側でのみ設定され、UpdatedAtは変更のたびに更新される。
type Customer struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerInput はクライアントから書き込み可能な顧客フィールドを表す。
// nilのフィールドは「指定なし」を意味し、部分更新では既存値を維持する。
type CustomerInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Address   *string
}

// Apply は指定されたフィールドのみをcustomerに上書きする。
func (in CustomerInput) Apply(c *Customer) {
	if in.FirstName != nil {
		c.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		c.LastName = *in.LastName
	}
	if in.Email != nil {
		c.Email = *in.Email
	}
	if in.Phone != nil {
		c.Phone = *in.Phone
	}
	if in.Address != nil {
		c.Address = *in.Address
	}
}
